package cim

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Party identifies a sender or receiver of a document.
type Party struct {
	GLN  string
	Role string
}

// Transaction holds the caller-supplied fields of one transaction entry.
// Nil values (including typed nil pointers) are dropped from the output.
type Transaction map[string]any

// Envelope is a serialized outbound document.
type Envelope struct {
	Kind           DocumentKind
	DocumentID     string
	TransactionIDs []string
	CreatedAt      time.Time
	Payload        []byte
}

// Builder encodes outbound documents.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator overrides mRID generation.
func WithIDGenerator(newID func() string) BuilderOption {
	return func(b *Builder) {
		if newID != nil {
			b.newID = newID
		}
	}
}

// NewBuilder constructs a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var defaultBuilder = NewBuilder()

// Build encodes a document with the default builder.
func Build(kind DocumentKind, processTypeCode string, sender, receiver Party, transactions []Transaction) (Envelope, error) {
	return defaultBuilder.Build(kind, processTypeCode, sender, receiver, transactions)
}

// Build encodes a document into the canonical envelope.
func (b *Builder) Build(kind DocumentKind, processTypeCode string, sender, receiver Party, transactions []Transaction) (Envelope, error) {
	if kind.Root == "" || kind.Element == "" {
		return Envelope{}, ErrUnknownKind
	}
	if err := ValidateGLN(sender.GLN); err != nil {
		return Envelope{}, err
	}
	if err := ValidateGLN(receiver.GLN); err != nil {
		return Envelope{}, err
	}

	created := b.now().UTC()
	env := Envelope{
		Kind:       kind,
		DocumentID: b.newID(),
		CreatedAt:  created,
	}

	header := map[string]any{
		"mRID":                            env.DocumentID,
		"type":                            Text(kind.TypeCode),
		"businessSector.type":             Text(BusinessSectorElectricity),
		"createdDateTime":                 FormatTime(created),
		"sender_MarketParticipant.mRID":   GLN(sender.GLN),
		"receiver_MarketParticipant.mRID": GLN(receiver.GLN),
	}
	if processTypeCode != "" {
		header["process.processType"] = Text(processTypeCode)
	}
	if sender.Role != "" {
		header["sender_MarketParticipant.marketRole.type"] = Text(sender.Role)
	}
	if receiver.Role != "" {
		header["receiver_MarketParticipant.marketRole.type"] = Text(receiver.Role)
	}

	if len(transactions) > 0 {
		entries := make([]any, 0, len(transactions))
		for _, tx := range transactions {
			entry, _ := compact(map[string]any(tx))
			fields, _ := entry.(map[string]any)
			if fields == nil {
				fields = map[string]any{}
			}
			id := b.newID()
			fields["mRID"] = id
			env.TransactionIDs = append(env.TransactionIDs, id)
			entries = append(entries, fields)
		}
		header[kind.Element] = entries
	}

	payload, err := json.Marshal(map[string]any{kind.RootName(): header})
	if err != nil {
		return Envelope{}, fmt.Errorf("cim: encode %s: %w", kind.Root, err)
	}
	env.Payload = payload
	return env, nil
}

// compact drops absent values recursively. The second result is false when
// the value itself is absent.
func compact(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case time.Time:
		if v.IsZero() {
			return nil, false
		}
		return FormatTime(v), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, false
		}
		return FormatTime(*v), true
	case Value, json.Marshaler:
		if isNilPointer(v) {
			return nil, false
		}
		return v, true
	case *string:
		if v == nil {
			return nil, false
		}
		return *v, true
	case Transaction:
		return compact(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if kept, ok := compact(item); ok {
				out[key] = kept
			}
		}
		return out, true
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if kept, ok := compact(item); ok {
				out = append(out, kept)
			}
		}
		return out, true
	default:
		if isNilPointer(v) {
			return nil, false
		}
		return v, true
	}
}

func isNilPointer(value any) bool {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
