// Package dump decodes the SVN dump format -- RFC822-style header
// blocks, a property sub-block, then a raw content block -- into the
// dumprecord.Revision and dumprecord.Node records the conversion
// pipeline consumes.
package dump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/eduardosm/svn2git/internal/dumprecord"
	"github.com/eduardosm/svn2git/internal/propset"
)

// Decoder reads one SVN dumpfile-format stream.
type Decoder struct {
	r   *bufio.Reader
	rev int
}

// NewDecoder wraps r; codec selection (gzip/bzip2/zstd/xz/lz4) happens in
// internal/dump/codec before the reader reaches here, so Decoder itself
// only ever sees the uncompressed dump text.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next Revision or Node record, or io.EOF once the
// stream is exhausted. Exactly one of Record.Revision/Record.Node is set.
func (d *Decoder) Next() (*dumprecord.Record, error) {
	headers, err := d.readHeaderBlock()
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return d.Next() // blank run between blocks (version header, UUID block, ...)
	}

	if revStr, ok := headers["Revision-number"]; ok {
		rev, err := strconv.Atoi(revStr)
		if err != nil {
			return nil, fmt.Errorf("malformed Revision-number %q: %w", revStr, err)
		}
		d.rev = rev
		props, err := d.readPropsIfPresent(headers)
		if err != nil {
			return nil, err
		}
		return &dumprecord.Record{Revision: &dumprecord.Revision{Number: rev, Props: props}}, nil
	}

	if nodePath, ok := headers["Node-path"]; ok {
		node, err := d.readNode(nodePath, headers)
		if err != nil {
			return nil, err
		}
		return &dumprecord.Record{Node: node}, nil
	}

	// Unrecognised block (e.g. the leading "SVN-fs-dump-format-version"/
	// "UUID" headers): skip and keep reading.
	return d.Next()
}

// readHeaderBlock reads "Key: value" lines up to (and consuming) the
// first blank line.
func (d *Decoder) readHeaderBlock() (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, err
			}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		i := strings.Index(line, ": ")
		if i < 0 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		headers[line[:i]] = line[i+2:]
		if err == io.EOF {
			return headers, nil
		}
	}
}

func (d *Decoder) readPropsIfPresent(headers map[string]string) (propset.Set, error) {
	lenStr, ok := headers["Prop-content-length"]
	if !ok {
		return propset.Set{}, nil
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return propset.Set{}, fmt.Errorf("malformed Prop-content-length %q: %w", lenStr, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return propset.Set{}, fmt.Errorf("reading %d bytes of property block: %w", n, err)
	}
	// Consume the trailing content-length-accounted newline after the
	// property block proper, if this header set has no content block of
	// its own to immediately follow (revisions never do).
	if _, hasContent := headers["Text-content-length"]; !hasContent {
		d.r.ReadByte()
	}
	return parsePropBlock(buf)
}

func parsePropBlock(buf []byte) (propset.Set, error) {
	props := propset.New()
	lines := bytes.Split(buf, []byte("\n"))
	i := 0
	for i < len(lines) {
		line := lines[i]
		if bytes.Equal(line, []byte("PROPS-END")) || len(line) == 0 {
			i++
			continue
		}
		if len(line) < 2 || (line[0] != 'K' && line[0] != 'D') {
			return props, fmt.Errorf("malformed property record header %q", line)
		}
		n, err := strconv.Atoi(string(line[2:]))
		if err != nil {
			return props, fmt.Errorf("malformed property key length %q: %w", line, err)
		}
		key, consumed := sliceBytes(lines, i+1, n)
		i += consumed + 1

		if line[0] == 'D' {
			props = props.Remove(string(key))
			continue
		}

		vline := lines[i]
		if len(vline) < 2 || vline[0] != 'V' {
			return props, fmt.Errorf("expected value header after key %q, got %q", key, vline)
		}
		vn, err := strconv.Atoi(string(vline[2:]))
		if err != nil {
			return props, fmt.Errorf("malformed property value length %q: %w", vline, err)
		}
		val, consumed := sliceBytes(lines, i+1, vn)
		i += consumed + 1
		props = props.Set(string(key), val)
	}
	return props, nil
}

// sliceBytes reassembles an N-byte value that was split across lines[from:]
// by the earlier bytes.Split on "\n" (property values may themselves
// contain embedded newlines), returning the value and how many of those
// split lines it consumed.
func sliceBytes(lines [][]byte, from int, n int) ([]byte, int) {
	var buf bytes.Buffer
	consumed := 0
	for buf.Len() < n && from+consumed < len(lines) {
		if consumed > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(lines[from+consumed])
		consumed++
	}
	out := buf.Bytes()
	if len(out) > n {
		out = out[:n]
	}
	return out, consumed
}

func (d *Decoder) readNode(nodePath string, headers map[string]string) (*dumprecord.Node, error) {
	node := &dumprecord.Node{Path: nodePath}

	switch headers["Node-kind"] {
	case "dir":
		node.Kind = dumprecord.KindDir
	default:
		node.Kind = dumprecord.KindFile // symlink is inferred later from svn:special
	}

	switch headers["Node-action"] {
	case "add":
		node.Action = dumprecord.ActionAdd
	case "change":
		node.Action = dumprecord.ActionChange
	case "delete":
		node.Action = dumprecord.ActionDelete
	case "replace":
		node.Action = dumprecord.ActionReplace
	default:
		return nil, fmt.Errorf("unknown Node-action %q for %q", headers["Node-action"], nodePath)
	}

	if fromPath, ok := headers["Node-copyfrom-path"]; ok {
		fromRevStr := headers["Node-copyfrom-rev"]
		fromRev, err := strconv.Atoi(fromRevStr)
		if err != nil {
			return nil, fmt.Errorf("malformed Node-copyfrom-rev %q: %w", fromRevStr, err)
		}
		node.CopyFrom = &dumprecord.CopyFrom{Path: fromPath, Rev: fromRev}
	}

	if _, hasProps := headers["Prop-content-length"]; hasProps {
		props, err := d.readPropsIfPresentNode(headers)
		if err != nil {
			return nil, err
		}
		node.PropsDelta = deltaFromFullSet(props)
		if _, ok := props.Get(propset.Special); ok {
			node.Kind = dumprecord.KindSymlink
		}
	}

	if lenStr, ok := headers["Text-content-length"]; ok {
		n, err := strconv.Atoi(lenStr)
		if err != nil {
			return nil, fmt.Errorf("malformed Text-content-length %q: %w", lenStr, err)
		}
		content := make([]byte, n)
		if _, err := io.ReadFull(d.r, content); err != nil {
			return nil, fmt.Errorf("reading %d bytes of node content for %q: %w", n, nodePath, err)
		}
		d.r.ReadByte() // trailing newline after the content block
		node.Content = stripSymlinkMarker(node, content)
	}

	return node, nil
}

func (d *Decoder) readPropsIfPresentNode(headers map[string]string) (propset.Set, error) {
	lenStr := headers["Prop-content-length"]
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return propset.Set{}, fmt.Errorf("malformed Prop-content-length %q: %w", lenStr, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return propset.Set{}, fmt.Errorf("reading %d bytes of property block: %w", n, err)
	}
	if _, hasContent := headers["Text-content-length"]; !hasContent {
		d.r.ReadByte()
	}
	return parsePropBlock(buf)
}

func deltaFromFullSet(props propset.Set) propset.Delta {
	delta := make(propset.Delta)
	props.Each(func(name string, value []byte) {
		delta[name] = value
	})
	return delta
}

// stripSymlinkMarker removes SVN's "link " prefix from symlink target
// content so node.Content holds exactly the link target, matching how
// the Mirror and Stage 2 both expect symlink payloads.
func stripSymlinkMarker(node *dumprecord.Node, content []byte) []byte {
	if node.Kind != dumprecord.KindSymlink {
		return content
	}
	return bytes.TrimPrefix(content, []byte("link "))
}
