package content

import (
	"fmt"

	"reach-engine/internal/codec"
	"reach-engine/internal/markup"
)

// record is the persisted form of an item: its source markup plus the
// state accumulated since it was received.
type record struct {
	Raw        []byte            `cbor:"1,keyasint"`
	Params     map[string]string `cbor:"2,keyasint,omitempty"`
	Stage      int32             `cbor:"3,keyasint,omitempty"`
	NativePush bool              `cbor:"4,keyasint,omitempty"`
	Answers    map[string]string `cbor:"5,keyasint,omitempty"`
}

// Encode serializes c for durable storage.
func Encode(c Content) ([]byte, error) {
	b := c.contentBase()
	rec := record{
		Raw:    b.raw,
		Params: b.params,
		Stage:  b.stage.Load(),
	}
	if i, ok := c.(Interactive); ok {
		rec.NativePush = i.FromNativePush()
	}
	if p, ok := c.(*Poll); ok {
		rec.Answers = p.Answers()
	}
	return codec.Marshal(rec)
}

// Decode rebuilds an item written by Encode.
func Decode(data []byte) (Content, error) {
	var rec record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode content record: %w", err)
	}
	doc, err := markup.Parse(rec.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode content record: %w", err)
	}
	defer doc.Release()

	c, err := Parse(doc.Root(), rec.Params)
	if err != nil {
		return nil, fmt.Errorf("decode content record: %w", err)
	}
	c.contentBase().stage.Store(rec.Stage)
	if rec.NativePush {
		if i, ok := c.(Interactive); ok {
			i.MarkFromNativePush()
		}
	}
	if p, ok := c.(*Poll); ok {
		for q, a := range rec.Answers {
			// answers were validated when filled
			_ = p.FillAnswer(q, a)
		}
	}
	return c, nil
}

// Codec adapts Encode and Decode to the cache persistence interface.
type Codec struct{}

func (Codec) Encode(c Content) ([]byte, error) { return Encode(c) }

func (Codec) Decode(data []byte) (Content, error) { return Decode(data) }
