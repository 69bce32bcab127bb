package pdf

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// pageText is the text recovered from one page content stream.
type pageText struct {
	text string
	// glyphs counts string bytes that did not decode to printable text,
	// which happens with CID fonts that need a ToUnicode map.
	glyphs int
	chars  int
	// images counts XObject draws and inline images.
	images int
}

// undecodable reports whether the page text is mostly glyph ids.
func (p pageText) undecodable() bool {
	total := p.glyphs + p.chars
	return total > 0 && float64(p.glyphs)/float64(total) > 0.3
}

// operand is a value on the content stream operand stack.
type operand struct {
	str    []byte
	isStr  bool
	num    float64
	isNum  bool
	array  []operand
	isArr  bool
	isName bool
}

// extractText interprets the text operators of a page content stream.
func extractText(content []byte) pageText {
	lx := &lexer{data: content}
	var out strings.Builder
	var res pageText
	var stack []operand
	lastY, haveY := 0.0, false

	var last byte
	write := func(text string) {
		if text != "" {
			out.WriteString(text)
			last = text[len(text)-1]
		}
	}
	newline := func() {
		if out.Len() > 0 && last != '\n' {
			write("\n")
		}
	}
	space := func() {
		if out.Len() > 0 && last != ' ' && last != '\n' {
			write(" ")
		}
	}
	show := func(b []byte) {
		text, bad := decodeString(b)
		res.glyphs += bad
		res.chars += utf8.RuneCountInString(text)
		write(text)
	}

	for {
		op, ok := lx.next()
		if !ok {
			break
		}
		if !op.isOp {
			stack = append(stack, op.val)
			continue
		}
		switch op.name {
		case "Tj":
			if s, ok := lastString(stack); ok {
				show(s)
			}
		case "'", "\"":
			newline()
			if s, ok := lastString(stack); ok {
				show(s)
			}
		case "TJ":
			if n := len(stack); n > 0 && stack[n-1].isArr {
				for _, el := range stack[n-1].array {
					switch {
					case el.isStr:
						show(el.str)
					case el.isNum && el.num < -200:
						space()
					}
				}
			}
		case "T*":
			newline()
		case "Td", "TD":
			if n := len(stack); n >= 2 && stack[n-1].isNum {
				if stack[n-1].num != 0 {
					newline()
				} else if stack[n-2].isNum && stack[n-2].num > 0 {
					space()
				}
			}
		case "Tm":
			if n := len(stack); n >= 6 && stack[n-1].isNum {
				y := stack[n-1].num
				if haveY && y != lastY {
					newline()
				} else {
					space()
				}
				lastY, haveY = y, true
			}
		case "ET":
			newline()
		case "Do":
			res.images++
		case "BI":
			res.images++
			lx.skipInlineImage()
		}
		stack = stack[:0]
	}

	res.text = strings.TrimSpace(out.String())
	return res
}

func lastString(stack []operand) ([]byte, bool) {
	n := len(stack)
	if n == 0 || !stack[n-1].isStr {
		return nil, false
	}
	return stack[n-1].str, true
}

// decodeString converts a PDF string to text. UTF-16BE strings carry a BOM;
// everything else is treated as a single-byte encoding. It returns the
// number of bytes that were not printable.
func decodeString(b []byte) (string, int) {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, len(b)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u)), 0
	}
	var sb strings.Builder
	bad := 0
	for _, c := range b {
		r := rune(c)
		switch {
		case c == '\t' || c == '\n' || c == '\r' || c == 0xA0:
			sb.WriteByte(' ')
		case c < 0x20 || c == 0x7F:
			bad++
		case c >= 0x80 && c < 0xA0:
			sb.WriteRune(winAnsiHigh(c))
		default:
			if !unicode.IsPrint(r) && r != ' ' {
				bad++
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String(), bad
}

// winAnsiHigh maps the 0x80-0x9F range of WinAnsiEncoding.
func winAnsiHigh(c byte) rune {
	switch c {
	case 0x91, 0x92:
		return '\''
	case 0x93, 0x94:
		return '"'
	case 0x95:
		return '•'
	case 0x96, 0x97:
		return '-'
	case 0x85:
		return '…'
	case 0x80:
		return '€'
	default:
		return ' '
	}
}

// lexItem is either an operand or an operator.
type lexItem struct {
	isOp bool
	name string
	val  operand
}

// lexer tokenizes a PDF content stream.
type lexer struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) next() (lexItem, bool) {
	l.skipSpace()
	if l.pos >= len(l.data) {
		return lexItem{}, false
	}
	c := l.data[l.pos]
	switch {
	case c == '(':
		return lexItem{val: operand{str: l.literal(), isStr: true}}, true
	case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
		l.skipDict()
		return l.next()
	case c == '<':
		return lexItem{val: operand{str: l.hex(), isStr: true}}, true
	case c == '[':
		l.pos++
		var arr []operand
		for {
			l.skipSpace()
			if l.pos >= len(l.data) {
				break
			}
			if l.data[l.pos] == ']' {
				l.pos++
				break
			}
			item, ok := l.next()
			if !ok {
				break
			}
			if !item.isOp {
				arr = append(arr, item.val)
			}
		}
		return lexItem{val: operand{array: arr, isArr: true}}, true
	case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
		l.pos++
		return l.next()
	case c == '/':
		l.pos++
		l.word()
		return lexItem{val: operand{isName: true}}, true
	}

	w := l.word()
	if w == "" {
		l.pos++
		return l.next()
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return lexItem{val: operand{num: f, isNum: true}}, true
	}
	return lexItem{isOp: true, name: w}, true
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.data) && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// literal reads a parenthesised string with balanced nesting and escapes.
func (l *lexer) literal() []byte {
	l.pos++ // (
	depth := 1
	var out []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return out
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; k++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

// hex reads a <...> hex string.
func (l *lexer) hex() []byte {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		c := l.data[l.pos]
		if !isWhite(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out
}

// skipDict skips a << >> dictionary, including nested ones.
func (l *lexer) skipDict() {
	depth := 0
	for l.pos < len(l.data) {
		switch {
		case strings.HasPrefix(string(l.data[l.pos:min(l.pos+2, len(l.data))]), "<<"):
			depth++
			l.pos += 2
		case strings.HasPrefix(string(l.data[l.pos:min(l.pos+2, len(l.data))]), ">>"):
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		case l.data[l.pos] == '(':
			l.literal()
		default:
			l.pos++
		}
	}
}

// skipInlineImage skips inline image data up to the EI operator.
func (l *lexer) skipInlineImage() {
	for l.pos+2 < len(l.data) {
		if isWhite(l.data[l.pos]) && l.data[l.pos+1] == 'E' && l.data[l.pos+2] == 'I' &&
			(l.pos+3 >= len(l.data) || isWhite(l.data[l.pos+3])) {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}
