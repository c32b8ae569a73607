package statestore

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials is a parsed service account key file
type Credentials struct {
	Type        string
	ProjectID   string
	ClientEmail string
	JSON        []byte // raw file contents, handed to the client library
}

type credentialsFile struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// LoadCredentials reads and parses the credentials file at path
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials parses service account JSON. The document must be a JSON object with a type.
func ParseCredentials(data []byte) (Credentials, error) {
	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("malformed credentials: %w", err)
	}
	if f.Type == "" {
		return Credentials{}, fmt.Errorf("malformed credentials: missing type")
	}

	return Credentials{
		Type:        f.Type,
		ProjectID:   f.ProjectID,
		ClientEmail: f.ClientEmail,
		JSON:        data,
	}, nil
}
