package dump

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Recoder turns legacy-charset revision metadata (svn:log, svn:author
// written by pre-1.2 svnadmin or clients with a mis-set locale) into
// UTF-8. Charsets are tried in order; bytes no charset can decode fall
// back to lossy replacement so a single bad log message never aborts a
// conversion.
type Recoder struct {
	decoders []*encoding.Decoder
}

// NewRecoder resolves IANA charset names. An unknown name is a
// configuration error.
func NewRecoder(charsets []string) (*Recoder, error) {
	r := &Recoder{}
	for _, name := range charsets {
		enc, err := ianaindex.IANA.Encoding(name)
		if err != nil || enc == nil {
			return nil, fmt.Errorf("unknown legacy encoding %q", name)
		}
		r.decoders = append(r.decoders, enc.NewDecoder())
	}
	return r, nil
}

// Recode returns b as valid UTF-8. Already-valid input passes through
// untouched, so dumps from modern svnadmin never pay for transcoding.
func (r *Recoder) Recode(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	if r != nil {
		for _, dec := range r.decoders {
			out, err := dec.Bytes(b)
			if err == nil && utf8.Valid(out) {
				return out
			}
		}
	}
	return []byte(strings.ToValidUTF8(string(b), "�"))
}
