package transcode

import (
	"strings"

	"github.com/wippyai/wasm-contract/errors"
	"github.com/wippyai/wasm-contract/metadata"
)

type param struct {
	name string
	typ  metadata.Type
}

type callable struct {
	name      string
	signature string
	params    []param
	selector  metadata.Selector
}

// Encoder builds call data for the entries of one metadata document.
type Encoder struct {
	types        *metadata.Registry
	constructors []callable
	messages     []callable
}

// New prepares an Encoder. It fails when an entry's selector or argument
// types do not parse, or when the document's type definitions are invalid.
func New(doc *metadata.Document) (*Encoder, error) {
	types, err := metadata.NewRegistry(doc.Spec.Types)
	if err != nil {
		return nil, err
	}
	ctors, err := prepare(doc.Spec.Constructors)
	if err != nil {
		return nil, err
	}
	msgs, err := prepare(doc.Spec.Messages)
	if err != nil {
		return nil, err
	}
	return &Encoder{types: types, constructors: ctors, messages: msgs}, nil
}

func prepare(entries []metadata.Entry) ([]callable, error) {
	out := make([]callable, 0, len(entries))
	for _, e := range entries {
		sel, err := metadata.ParseSelector(e.Selector)
		if err != nil {
			return nil, err
		}
		c := callable{name: e.Name, signature: e.Signature(), selector: sel}
		for _, a := range e.Args {
			t, err := metadata.ParseType(a.Type)
			if err != nil {
				return nil, err
			}
			c.params = append(c.params, param{name: a.Name, typ: t})
		}
		out = append(out, c)
	}
	return out, nil
}

// EncodeMessage returns the selector of the named message followed by the
// SCALE encoding of args. The name may be a full signature such as
// "transfer(u64)" to pick one of several overloads.
func (e *Encoder) EncodeMessage(name string, args ...string) ([]byte, error) {
	return e.encodeCall("message", e.messages, name, args)
}

// EncodeConstructor is EncodeMessage for constructors.
func (e *Encoder) EncodeConstructor(name string, args ...string) ([]byte, error) {
	return e.encodeCall("constructor", e.constructors, name, args)
}

// Signatures lists the signatures of the messages, in document order.
func (e *Encoder) Signatures() []string {
	out := make([]string, len(e.messages))
	for i, m := range e.messages {
		out[i] = m.signature
	}
	return out
}

func lookup(set string, entries []callable, name string) (*callable, error) {
	bySignature := strings.Contains(name, "(")
	var found []*callable
	for i := range entries {
		c := &entries[i]
		if (bySignature && c.signature == name) || (!bySignature && c.name == name) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.NotFound(errors.PhaseTranscode, set, name)
	case 1:
		return found[0], nil
	}
	sigs := make([]string, len(found))
	for i, c := range found {
		sigs[i] = c.signature
	}
	return nil, errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
		Rule("ambiguous_" + set).
		Value(name).
		Detail("%s %q is overloaded, use one of %s", set, name, strings.Join(sigs, ", ")).
		Build()
}

func (e *Encoder) encodeCall(set string, entries []callable, name string, args []string) ([]byte, error) {
	c, err := lookup(set, entries, name)
	if err != nil {
		return nil, err
	}
	if len(args) != len(c.params) {
		return nil, errors.New(errors.PhaseTranscode, errors.KindInvalidInput).
			Rule("arg_count").
			Path(set, c.name).
			Detail("%s takes %d argument(s), got %d", c.signature, len(c.params), len(args)).
			Build()
	}

	enc := &encoder{types: e.types, out: append([]byte(nil), c.selector[:]...)}
	for i, p := range c.params {
		v, err := ParseValue(args[i])
		if err != nil {
			if pe, ok := err.(*errors.Error); ok {
				pe.Path = []string{set, c.name, p.name}
			}
			return nil, err
		}
		enc.path = []string{set, c.name, p.name}
		if err := enc.encode(p.typ, v); err != nil {
			return nil, err
		}
	}
	return enc.out, nil
}
