package knowledge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads a JSON array of documents from path.
func LoadFile(path string) ([]Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return Load(file)
}

// Load decodes and validates documents. Ids must be unique.
func Load(r io.Reader) ([]Document, error) {
	var docs []Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode knowledge documents: %w", err)
	}
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if err := validate.Struct(doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("document %d: duplicate id %q", i, doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
	return docs, nil
}
