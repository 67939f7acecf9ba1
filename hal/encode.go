package hal

// A parse describes one non-literal command the encoder may emit at the
// current position: the method, the run length as stored in the command,
// the back-reference position if any, and the number of input bytes the
// command covers.
type parse struct {
	cmd     int
	n       int
	ref     int
	covered int
}

// cost is the encoded size of the command and its arguments.
func (p parse) cost() int {
	c := 1
	if p.n > shortRun {
		c = 2
	}
	switch p.cmd {
	case cmdRLE8, cmdRLESeq:
		c++
	case cmdRLE16, cmdCopy, cmdCopyRotate, cmdCopyReverse:
		c += 2
	}
	return c
}

// saving is the number of bytes the command wins over emitting its span
// as part of a literal run.
func (p parse) saving() int {
	return p.covered - p.cost()
}

// Encode compresses src into a stream that Decode reverses exactly. The
// parse is greedy: at every position the byte, word and incrementing runs
// are rated against the best sliding-window match under each of the three
// back-reference transforms, and the command with the largest saving wins.
// Ties prefer back-references, so equally short encodings are emitted the
// way the reference encoder resolves them.
func Encode(src []byte) ([]byte, error) {
	if len(src) > MaxOutput {
		return nil, ErrTooLarge
	}

	out := make([]byte, 0, len(src)/2+16)
	lit := 0 // start of the pending literal run
	pos := 0

	flush := func(end int) {
		for lit < end {
			n := end - lit
			if n > longRun {
				n = longRun
			}
			out = appendCommand(out, cmdLiteral, n)
			out = append(out, src[lit:lit+n]...)
			lit += n
		}
	}

	for pos < len(src) {
		best := bestParse(src, pos)
		if best.cmd < 0 {
			pos++
			continue
		}
		flush(pos)
		out = appendCommand(out, best.cmd, best.n)
		switch best.cmd {
		case cmdRLE8, cmdRLESeq:
			out = append(out, src[pos])
		case cmdRLE16:
			out = append(out, src[pos], src[pos+1])
		case cmdCopy, cmdCopyRotate, cmdCopyReverse:
			out = append(out, byte(best.ref>>8), byte(best.ref))
		}
		pos += best.covered
		lit = pos
	}
	flush(len(src))

	return append(out, terminator), nil
}

// appendCommand emits the one or two byte command form for a run of n.
func appendCommand(out []byte, cmd, n int) []byte {
	if n <= shortRun {
		return append(out, byte(cmd<<5|(n-1)))
	}
	return append(out, byte(cmdLong<<5|cmd<<2|(n-1)>>8), byte(n-1))
}

// bestParse rates every method at pos and returns the winner, or a parse
// with cmd < 0 when a literal byte is the cheapest option. Candidates are
// visited most-preferred first and replaced only on a strictly larger
// saving, which keeps tie-breaking deterministic.
func bestParse(src []byte, pos int) parse {
	best := parse{cmd: -1}
	consider := func(p parse) {
		if p.saving() > 0 && p.saving() > best.saving() {
			best = p
		}
	}

	limit := len(src) - pos
	if limit > longRun {
		limit = longRun
	}

	for _, cmd := range []int{cmdCopy, cmdCopyRotate, cmdCopyReverse} {
		if n, ref := longestMatch(src, pos, cmd, limit); n > 0 {
			consider(parse{cmd: cmd, n: n, ref: ref, covered: n})
		}
	}

	// Byte run.
	n := 1
	for n < limit && src[pos+n] == src[pos] {
		n++
	}
	consider(parse{cmd: cmdRLE8, n: n, covered: n})

	// Word run. The command length counts pairs.
	if limit >= 4 {
		pairs := 1
		for 2*pairs+1 < limit && pairs < longRun &&
			src[pos+2*pairs] == src[pos] && src[pos+2*pairs+1] == src[pos+1] {
			pairs++
		}
		consider(parse{cmd: cmdRLE16, n: pairs, covered: 2 * pairs})
	}

	// Incrementing run.
	n = 1
	for n < limit && src[pos+n] == src[pos]+byte(n) {
		n++
	}
	consider(parse{cmd: cmdRLESeq, n: n, covered: n})

	return best
}

// longestMatch scans the window before pos for the longest match under the
// given back-reference transform. Matches may run past pos: the decoder
// copies bytewise, so overlapping references are legal. The lowest
// reference wins among equal lengths.
func longestMatch(src []byte, pos, cmd, limit int) (n, ref int) {
	for j := 0; j < pos; j++ {
		var l int
		switch cmd {
		case cmdCopy:
			for l < limit && src[j+l] == src[pos+l] {
				l++
			}
		case cmdCopyRotate:
			for l < limit && rotate[src[j+l]] == src[pos+l] {
				l++
			}
		case cmdCopyReverse:
			max := limit
			if max > j+1 {
				max = j + 1
			}
			for l < max && src[j-l] == src[pos+l] {
				l++
			}
		}
		if l > n {
			n, ref = l, j
		}
	}
	return n, ref
}
