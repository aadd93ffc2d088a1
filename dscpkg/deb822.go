package dscpkg

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Stanza is one deb822 control-file paragraph: a field name maps to its
// value, with continuation lines (lines beginning with whitespace)
// joined by "\n", each with one leading space removed and a lone "."
// turned into an empty line. No ready-made
// deb822 parser appears anywhere in the retrieved pack; this is
// modeled on aptly's ControlFileReader/Stanza shape (see
// other_examples/aptly-dev-aptly__package_test.go) rather than
// imported wholesale, since aptly itself is not one of the example
// repos available to import from.
type Stanza map[string]string

// readStanza reads one deb822 paragraph from r, stopping at a blank
// line or EOF. It returns io.EOF with an empty Stanza when there is
// nothing left to read.
func readStanza(r *bufio.Reader) (Stanza, error) {
	st := make(Stanza)
	var field string
	sawAny := false
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if err != nil {
				if sawAny {
					return st, nil
				}
				return st, io.EOF
			}
			if sawAny {
				return st, nil
			}
			continue
		}
		sawAny = true
		if line[0] == ' ' || line[0] == '\t' {
			if field == "" {
				return nil, fmt.Errorf("dscpkg: continuation line with no preceding field: %q", line)
			}
			cont := strings.TrimPrefix(line, " ")
			if cont == "." {
				cont = ""
			}
			st[field] += "\n" + cont
			if err != nil {
				return st, nil
			}
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return nil, fmt.Errorf("dscpkg: malformed field line: %q", line)
		}
		field = strings.TrimSpace(line[:i])
		st[field] = strings.TrimSpace(line[i+1:])
		if err != nil {
			return st, nil
		}
	}
}

// parseStanza parses the first deb822 paragraph out of text.
func parseStanza(text string) (Stanza, error) {
	return readStanza(bufio.NewReader(strings.NewReader(text)))
}
