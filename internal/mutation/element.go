package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"slidesync/api/internal/store"
)

const (
	MinZ = 0
	MaxZ = 999999

	DefaultZ      = 1
	DefaultWidth  = 100
	DefaultHeight = 50

	maxIDLength = 128
)

// Number is a JSON number that also accepts numeric strings. Null and the
// empty string leave it unset.
type Number struct {
	Value float64
	Set   bool
}

func Num(v float64) Number {
	return Number{Value: v, Set: true}
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	var parsed float64
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*n = Number{}
			return nil
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", text)
		}
		parsed = v
	} else if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%s is not a number", string(data))
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return fmt.Errorf("number out of range")
	}
	*n = Num(parsed)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// ElementInput is the loosely typed element payload clients send. Omitted
// fields are zero Numbers or nil maps.
type ElementInput struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"`
	X       Number         `json:"x"`
	Y       Number         `json:"y"`
	Width   Number         `json:"width"`
	Height  Number         `json:"height"`
	Content map[string]any `json:"content,omitempty"`
	Styles  map[string]any `json:"styles,omitempty"`
	ZIndex  Number         `json:"zIndex"`
}

// ElementView is the canonical, fully populated element sent to clients.
type ElementView struct {
	ID        string         `json:"id"`
	PageID    string         `json:"pageId"`
	Type      string         `json:"type"`
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	Content   map[string]any `json:"content"`
	Styles    map[string]any `json:"styles"`
	ZIndex    int            `json:"zIndex"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

func ViewOf(e store.Element) ElementView {
	view := ElementView{
		ID:      e.ID,
		PageID:  e.PageID,
		Type:    e.Kind,
		X:       e.X,
		Y:       e.Y,
		Width:   e.Width,
		Height:  e.Height,
		Content: map[string]any(e.Content.Clone()),
		Styles:  map[string]any(e.Style.Clone()),
		ZIndex:  e.Z,
	}
	if !e.UpdatedAt.IsZero() {
		at := e.UpdatedAt
		view.UpdatedAt = &at
	}
	return view
}

func ViewsOf(elements []store.Element) []ElementView {
	out := make([]ElementView, 0, len(elements))
	for _, e := range elements {
		out = append(out, ViewOf(e))
	}
	return out
}

// ClampZ bounds a stacking order to [MinZ, MaxZ].
func ClampZ(z float64) int {
	if z < MinZ {
		return MinZ
	}
	if z > MaxZ {
		return MaxZ
	}
	return int(math.Round(z))
}

func validKind(kind string) bool {
	switch kind {
	case store.KindText, store.KindShape, store.KindImage, store.KindDrawing:
		return true
	}
	return false
}

// NormalizeNew builds a complete element from a create payload. newID mints
// the id when the client did not supply one.
func NormalizeNew(in ElementInput, pageID string, newID func() string) (store.Element, error) {
	kind := strings.ToLower(strings.TrimSpace(in.Type))
	if !validKind(kind) {
		return store.Element{}, invalid("element type %q is not one of text, shape, image, drawing", in.Type)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = newID()
	}
	if len(id) > maxIDLength {
		return store.Element{}, invalid("element id is too long")
	}

	e := store.Element{
		ID:     id,
		PageID: pageID,
		Kind:   kind,
		X:      valueOr(in.X, 0),
		Y:      valueOr(in.Y, 0),
		Width:  valueOr(in.Width, DefaultWidth),
		Height: valueOr(in.Height, DefaultHeight),
		Z:      DefaultZ,
	}
	if in.ZIndex.Set {
		e.Z = ClampZ(in.ZIndex.Value)
	}
	if e.Width <= 0 || e.Height <= 0 {
		return store.Element{}, invalid("width and height must be positive")
	}

	content, err := checkContent(kind, in.Content)
	if err != nil {
		return store.Element{}, err
	}
	style, err := checkStyle(in.Styles)
	if err != nil {
		return store.Element{}, err
	}
	e.Content = dropNulls(content)
	e.Style = dropNulls(style)
	return e, nil
}

func valueOr(n Number, fallback float64) float64 {
	if n.Set {
		return n.Value
	}
	return fallback
}

// checkContent validates the well-known keys of each element kind. Other keys
// pass through untouched.
func checkContent(kind string, content map[string]any) (store.Payload, error) {
	typed := map[string][]string{
		store.KindText:    {"text"},
		store.KindShape:   {"shape"},
		store.KindImage:   {"src", "alt"},
		store.KindDrawing: {},
	}
	for _, key := range typed[kind] {
		if v, ok := content[key]; ok && v != nil {
			if _, isString := v.(string); !isString {
				return nil, invalid("content.%s must be a string", key)
			}
		}
	}
	if kind == store.KindDrawing {
		if v, ok := content["points"]; ok && v != nil {
			if _, isList := v.([]any); !isList {
				return nil, invalid("content.points must be a list")
			}
		}
	}
	return store.Payload(content).Clone(), nil
}

// checkStyle accepts only primitive values: strings, numbers, booleans and
// null (which removes the key on merge).
func checkStyle(style map[string]any) (store.Payload, error) {
	for key, v := range style {
		switch v.(type) {
		case nil, string, float64, bool:
		default:
			return nil, invalid("styles.%s must be a string, number or boolean", key)
		}
	}
	return store.Payload(style).Clone(), nil
}

func dropNulls(p store.Payload) store.Payload {
	for k, v := range p {
		if v == nil {
			delete(p, k)
		}
	}
	return p
}

// Geometry is the position and size of an element. It is written as a unit.
type Geometry struct {
	X, Y, Width, Height float64
}

// Patch is a validated partial update as received from a client.
type Patch struct {
	Kind    string
	X       Number
	Y       Number
	Width   Number
	Height  Number
	Z       *int
	Content store.Payload
	Style   store.Payload
}

// Delta is a patch resolved against a base element: geometry, when present,
// is complete.
type Delta struct {
	Geometry *Geometry
	Z        *int
	Content  store.Payload
	Style    store.Payload
}

func ParsePatch(in ElementInput) (Patch, error) {
	p := Patch{
		Kind:   strings.ToLower(strings.TrimSpace(in.Type)),
		X:      in.X,
		Y:      in.Y,
		Width:  in.Width,
		Height: in.Height,
	}
	if p.Kind != "" && !validKind(p.Kind) {
		return Patch{}, invalid("element type %q is not one of text, shape, image, drawing", in.Type)
	}
	if (p.Width.Set && p.Width.Value <= 0) || (p.Height.Set && p.Height.Value <= 0) {
		return Patch{}, invalid("width and height must be positive")
	}
	if in.ZIndex.Set {
		z := ClampZ(in.ZIndex.Value)
		p.Z = &z
	}
	if in.Content != nil {
		// without a type the content is checked against the stored kind in Resolve
		content, err := checkContent(p.Kind, in.Content)
		if err != nil {
			return Patch{}, err
		}
		p.Content = content
	}
	if in.Styles != nil {
		style, err := checkStyle(in.Styles)
		if err != nil {
			return Patch{}, err
		}
		p.Style = style
	}
	return p, nil
}

func (p Patch) touchesGeometry() bool {
	return p.X.Set || p.Y.Set || p.Width.Set || p.Height.Set
}

// Resolve fills omitted geometry from base and returns the delta to persist
// together with the canonical element a client should now see.
func (p Patch) Resolve(base store.Element) (Delta, store.Element, error) {
	if p.Kind != "" && p.Kind != base.Kind {
		return Delta{}, store.Element{}, invalid("element type cannot change from %s to %s", base.Kind, p.Kind)
	}
	if p.Content != nil && p.Kind == "" {
		if _, err := checkContent(base.Kind, p.Content); err != nil {
			return Delta{}, store.Element{}, err
		}
	}
	var d Delta
	if p.touchesGeometry() {
		d.Geometry = &Geometry{
			X:      valueOr(p.X, base.X),
			Y:      valueOr(p.Y, base.Y),
			Width:  valueOr(p.Width, base.Width),
			Height: valueOr(p.Height, base.Height),
		}
	}
	d.Z = p.Z
	d.Content = p.Content
	d.Style = p.Style

	canonical := base.Clone()
	d.Apply(&canonical)
	return d, canonical, nil
}

func (d Delta) Empty() bool {
	return d.Geometry == nil && d.Z == nil && len(d.Content) == 0 && len(d.Style) == 0
}

// Apply writes d onto e: geometry and z overwrite, content and style merge
// key by key with null removing a key.
func (d Delta) Apply(e *store.Element) {
	if d.Geometry != nil {
		e.X, e.Y, e.Width, e.Height = d.Geometry.X, d.Geometry.Y, d.Geometry.Width, d.Geometry.Height
	}
	if d.Z != nil {
		e.Z = *d.Z
	}
	e.Content = mergeKeys(e.Content, d.Content)
	e.Style = mergeKeys(e.Style, d.Style)
}

// Merge combines d with a later delta under the same rules Apply uses.
func (d Delta) Merge(later Delta) Delta {
	out := Delta{Geometry: d.Geometry, Z: d.Z}
	if later.Geometry != nil {
		out.Geometry = later.Geometry
	}
	if later.Z != nil {
		out.Z = later.Z
	}
	out.Content = overlay(d.Content, later.Content)
	out.Style = overlay(d.Style, later.Style)
	return out
}

func mergeKeys(base, delta store.Payload) store.Payload {
	out := base.Clone()
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// overlay keeps nulls so a coalesced delete still removes the key on apply.
func overlay(earlier, later store.Payload) store.Payload {
	if earlier == nil && later == nil {
		return nil
	}
	out := earlier.Clone()
	for k, v := range later {
		out[k] = v
	}
	return out
}
