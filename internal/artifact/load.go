package artifact

import (
	"bytes"
	"encoding/json"
	"os"

	"metapub.io/metapub/internal/domain"
	apperrors "metapub.io/metapub/internal/pkg/errors"
)

// collectionKeys are the object keys under which a record list may be nested.
var collectionKeys = []string{"widgets", "items", "records"}

// Load reads the artifact at path. It accepts a JSON array of records, an object
// holding the array under widgets, items or records, or a single record object.
func Load(path string) ([]domain.ArtifactRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, apperrors.CodeArtifactNotFound, "artifact missing").
				WithParams(map[string]interface{}{"path": path})
		}
		return nil, apperrors.Wrap(err, apperrors.CodeArtifactInvalid, "read artifact").
			WithParams(map[string]interface{}{"path": path})
	}

	records, err := Decode(data)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return nil, appErr.WithParams(map[string]interface{}{"path": path})
		}
		return nil, err
	}
	return records, nil
}

// Decode parses artifact bytes. See Load for the accepted shapes.
func Decode(data []byte) ([]domain.ArtifactRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, invalid(nil, "artifact is empty")
	}

	switch data[0] {
	case '[':
		var records []domain.ArtifactRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, invalid(err, "decode artifact array")
		}
		return records, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, invalid(err, "decode artifact object")
		}
		for _, key := range collectionKeys {
			raw, ok := obj[key]
			if !ok || !isArray(raw) {
				continue
			}
			var records []domain.ArtifactRecord
			if err := json.Unmarshal(raw, &records); err != nil {
				return nil, invalid(err, "decode artifact "+key)
			}
			return records, nil
		}
		var rec domain.ArtifactRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, invalid(err, "decode artifact record")
		}
		return []domain.ArtifactRecord{rec}, nil
	default:
		return nil, invalid(nil, "artifact must be a JSON array or object")
	}
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func invalid(err error, msg string) *apperrors.AppError {
	if err == nil {
		return apperrors.Wrap(apperrors.ErrInvalid, apperrors.CodeArtifactInvalid, msg)
	}
	return apperrors.Wrap(err, apperrors.CodeArtifactInvalid, msg)
}
