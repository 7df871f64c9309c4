package ini

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sardine-ai/go-uwsgi-config/model"
)

// Write serializes doc. Each group gets a [name] header and one "key = value"
// line per value, so repeated keys are written once per value in order.
// Values of resolved groups are final, so their percent signs are written as
// %% and read back as the same text.
func Write(w io.Writer, doc *model.Document) error {
	bw := bufio.NewWriter(w)
	for i, g := range doc.Groups() {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if err := writeGroup(bw, g); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteGroup serializes a single group.
func WriteGroup(w io.Writer, g *model.Group) error {
	bw := bufio.NewWriter(w)
	if err := writeGroup(bw, g); err != nil {
		return err
	}
	return bw.Flush()
}

func writeGroup(w *bufio.Writer, g *model.Group) error {
	if _, err := fmt.Fprintf(w, "[%s]\n", g.Name); err != nil {
		return err
	}
	for _, p := range g.Parameters() {
		for _, v := range p.Values {
			if strings.ContainsAny(v, "\r\n") {
				return fmt.Errorf("%w: [%s] %s contains a line break", ErrInvalidValue, g.Name, p.Key)
			}
			if g.Resolved() {
				v = escapePercent(v)
			}
			if _, err := fmt.Fprintf(w, "%s = %s\n", p.Key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func escapePercent(v string) string {
	return strings.ReplaceAll(v, "%", "%%")
}

// Marshal returns the serialized document.
func Marshal(doc *model.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalGroup returns the serialized group.
func MarshalGroup(g *model.Group) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteGroup(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
