package connector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/rerankd/internal/config"
)

const stateFileName = "connectors.json"

// Store persists registry state as a single JSON file with atomic writes
// (tmp + rename). The file holds raw credential material, hence the 0600
// mode and the 0700 directory.
type Store struct {
	path string
}

// NewStore creates a store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, stateFileName)}, nil
}

// Path returns the state file path. The hot-reload watcher observes it.
func (s *Store) Path() string {
	return s.path
}

// persistedCredentials mirrors Credentials with raw string values.
// config.Secret redacts itself on marshal, which is exactly wrong for the
// state file: the store must round-trip real credential material.
type persistedCredentials struct {
	Type         CredentialType `json:"type"`
	Header       string         `json:"header,omitempty"`
	APIKey       string         `json:"api_key,omitempty"`
	Token        string         `json:"token,omitempty"`
	Username     string         `json:"username,omitempty"`
	Password     string         `json:"password,omitempty"`
	TokenURL     string         `json:"token_url,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	ClientSecret string         `json:"client_secret,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
}

type persistedConfig struct {
	ID          string               `json:"connector_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     int                  `json:"version"`
	Endpoint    string               `json:"endpoint"`
	Model       string               `json:"model,omitempty"`
	PreProcess  string               `json:"pre_process"`
	PostProcess string               `json:"post_process"`
	Timeout     config.Duration      `json:"timeout,omitempty"`
	Credentials persistedCredentials `json:"credentials"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type persistedState struct {
	Version    int                         `json:"version"`
	Connectors map[string]*persistedConfig `json:"connectors"`
	Models     map[string]*Binding         `json:"models"`
}

func toPersisted(cfg *Config) *persistedConfig {
	return &persistedConfig{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		PreProcess:  cfg.PreProcess,
		PostProcess: cfg.PostProcess,
		Timeout:     cfg.Timeout,
		Credentials: persistedCredentials{
			Type:         cfg.Credentials.Type,
			Header:       cfg.Credentials.Header,
			APIKey:       cfg.Credentials.APIKey.Value(),
			Token:        cfg.Credentials.Token.Value(),
			Username:     cfg.Credentials.Username,
			Password:     cfg.Credentials.Password.Value(),
			TokenURL:     cfg.Credentials.TokenURL,
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret.Value(),
			Scopes:       append([]string(nil), cfg.Credentials.Scopes...),
		},
		CreatedAt: cfg.CreatedAt,
		UpdatedAt: cfg.UpdatedAt,
	}
}

func fromPersisted(pc *persistedConfig) *Config {
	return &Config{
		ID:          pc.ID,
		Name:        pc.Name,
		Description: pc.Description,
		Version:     pc.Version,
		Endpoint:    pc.Endpoint,
		Model:       pc.Model,
		PreProcess:  pc.PreProcess,
		PostProcess: pc.PostProcess,
		Timeout:     pc.Timeout,
		Credentials: Credentials{
			Type:         pc.Credentials.Type,
			Header:       pc.Credentials.Header,
			APIKey:       config.Secret(pc.Credentials.APIKey),
			Token:        config.Secret(pc.Credentials.Token),
			Username:     pc.Credentials.Username,
			Password:     config.Secret(pc.Credentials.Password),
			TokenURL:     pc.Credentials.TokenURL,
			ClientID:     pc.Credentials.ClientID,
			ClientSecret: config.Secret(pc.Credentials.ClientSecret),
			Scopes:       append([]string(nil), pc.Credentials.Scopes...),
		},
		CreatedAt: pc.CreatedAt,
		UpdatedAt: pc.UpdatedAt,
	}
}

// Load reads state from disk. Returns (nil, nil) when no state file
// exists yet.
func (s *Store) Load() (*state, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	st := newState()
	if ps.Version > 0 {
		st.Version = ps.Version
	}
	for id, pc := range ps.Connectors {
		if pc == nil {
			return nil, fmt.Errorf("%w: connector entry %q is null", ErrStateCorrupted, id)
		}
		st.Connectors[id] = fromPersisted(pc)
	}
	for id, binding := range ps.Models {
		st.Models[id] = binding
	}
	return st, nil
}

// Save writes state atomically.
func (s *Store) Save(st *state) error {
	ps := persistedState{
		Version:    st.Version,
		Connectors: make(map[string]*persistedConfig, len(st.Connectors)),
		Models:     st.Models,
	}
	for id, cfg := range st.Connectors {
		ps.Connectors[id] = toPersisted(cfg)
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state: %w", err)
	}
	return nil
}
