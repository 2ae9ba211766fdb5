package store

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileStore is a JSON-file-backed implementation of the store interfaces.
// The panel proper keeps these records in a database; the standalone daemon
// and the tests run off a flat file.
type FileStore struct {
	path string

	mu          sync.Mutex
	hosts       map[int64]*Host
	credentials map[int64]*Credential
}

type fileStoreDoc struct {
	Hosts       []*Host       `json:"hosts"`
	Credentials []*Credential `json:"credentials"`
}

// OpenFileStore loads the store file. A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:        path,
		hosts:       make(map[int64]*Host),
		credentials: make(map[int64]*Credential),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Warnf("store file %q does not exist, starting empty", path)
			return s, nil
		}
		return nil, errors.Wrapf(err, "read store file %q", path)
	}

	var doc fileStoreDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse store file %q", path)
	}

	for _, h := range doc.Hosts {
		s.hosts[h.ID] = h
	}
	for _, c := range doc.Credentials {
		s.credentials[c.ID] = c
	}

	logrus.Infof("loaded %d hosts and %d credentials from %q",
		len(s.hosts), len(s.credentials), path)
	return s, nil
}

// AddHost registers a host record. Used by tests and by store file seeding.
func (s *FileStore) AddHost(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.ID] = h
}

// AddCredential registers a credential record.
func (s *FileStore) AddCredential(c *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.ID] = c
}

func (s *FileStore) GetHost(ctx context.Context, id int64) (*Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[id]
	if !ok {
		return nil, ErrHostNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *FileStore) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *FileStore) SetHostStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[id]
	if !ok {
		return ErrHostNotFound
	}
	h.Status = status
	return s.persistLocked()
}

func (s *FileStore) SetHostFacts(ctx context.Context, id int64, facts json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[id]
	if !ok {
		return ErrHostNotFound
	}
	h.Facts = facts
	return s.persistLocked()
}

// persistLocked writes the store back to disk. Best effort: the in-memory
// state is already updated, and collection results are reproducible.
func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	doc := fileStoreDoc{}
	for _, h := range s.hosts {
		doc.Hosts = append(doc.Hosts, h)
	}
	for _, c := range s.credentials {
		doc.Credentials = append(doc.Credentials, c)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store file")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		logrus.Warnf("failed to persist store file %q: %v", s.path, err)
	}
	return nil
}

// StaticTokenVerifier accepts exactly one preconfigured token.
type StaticTokenVerifier struct {
	Token string
	Name  string
}

func (v *StaticTokenVerifier) Verify(token string) (*Caller, error) {
	if v.Token == "" || token != v.Token {
		return nil, ErrUnauthorized
	}
	name := v.Name
	if name == "" {
		name = "admin"
	}
	return &Caller{Name: name}, nil
}
