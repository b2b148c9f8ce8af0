// Package report prints the human-readable conformance report and
// keeps the running warning and error score.
//
// Every protocol-mandated diagnostic line funnels through a Reporter
// so that severities are counted in one place and the output stream is
// a single coherent transcript. The report is the tool's product; it
// goes to the writer verbatim, not through a logger.
package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const ruleWidth = 80

// Reporter writes the conformance transcript. A run is strictly
// sequential, so Reporter does no locking and is not safe for
// concurrent use.
type Reporter struct {
	out      io.Writer
	verbose  bool
	warnings int
	errors   int
}

// New returns a Reporter writing to out. When verbose is set, fetched
// bodies are echoed pretty-printed between rule lines.
func New(out io.Writer, verbose bool) *Reporter {
	return &Reporter{out: out, verbose: verbose}
}

// Verbose reports whether body echoing is enabled.
func (r *Reporter) Verbose() bool { return r.verbose }

// Printf writes one plain report line.
func (r *Reporter) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Warnf writes a WARN: line and bumps the warning count. Warnings
// never stop a run.
func (r *Reporter) Warnf(format string, args ...any) {
	r.warnings++
	fmt.Fprintf(r.out, "WARN: "+format+"\n", args...)
}

// Errorf writes an ERROR: line and bumps the error count. Like
// warnings, errors are recorded and the traversal moves on; the caller
// decides separately whether a condition is fatal.
func (r *Reporter) Errorf(format string, args ...any) {
	r.errors++
	fmt.Fprintf(r.out, "ERROR: "+format+"\n", args...)
}

// Warnings returns the number of warnings reported so far.
func (r *Reporter) Warnings() int { return r.warnings }

// Errors returns the number of errors reported so far.
func (r *Reporter) Errors() int { return r.errors }

// Summary writes the closing score line. The score never affects the
// process exit code; a run that completes is a success no matter how
// many problems it found.
func (r *Reporter) Summary() {
	r.Printf("Done: %d warnings, %d errors.", r.warnings, r.errors)
}

// EchoBody pretty-prints a fetched body between rule lines when
// verbose mode is on. XML is re-indented; JSON is re-serialized with
// sorted keys and 4-space indentation; anything else, or a body that
// fails to parse, is echoed as-is.
func (r *Reporter) EchoBody(contentType string, body []byte) {
	if !r.verbose {
		return
	}
	content := string(body)
	switch {
	case strings.Contains(contentType, "xml"):
		if pretty, ok := prettyXML(body); ok {
			content = pretty
		}
	case strings.Contains(contentType, "json"):
		if pretty, ok := prettyJSON(body); ok {
			content = pretty
		}
	}
	rule := strings.Repeat("-", ruleWidth)
	fmt.Fprintln(r.out, rule)
	fmt.Fprintln(r.out, content)
	fmt.Fprintln(r.out, rule)
}

// prettyJSON re-serializes a JSON document with sorted keys and
// 4-space indentation. Map keys sort because encoding/json marshals
// maps in key order.
func prettyJSON(body []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", false
	}
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", false
	}
	return string(out), true
}

// prettyXML re-indents an XML document by replaying its tokens through
// an indenting encoder. The XML declaration and inter-element
// whitespace are dropped along the way.
func prettyXML(body []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
		case xml.ProcInst:
			// The encoder refuses to re-emit the <?xml?> declaration.
			if t.Target == "xml" {
				continue
			}
		}
		if err := enc.EncodeToken(tok); err != nil {
			return "", false
		}
	}
	if err := enc.Flush(); err != nil {
		return "", false
	}
	return buf.String(), true
}
