package agent

import (
	"sync"

	"github.com/sunet/vcengine/internal/errs"
)

// Format tags the representation a stored credential is serialized in.
type Format string

const (
	FormatVCJWT Format = "jwt_vc"
	FormatSDJWT Format = "vc+sd-jwt"
	FormatMdoc  Format = "mso_mdoc"
)

// StoredCredential is one credential at rest: VC-JWT and SD-JWT entries keep their
// canonical string form, mdoc entries their CBOR bytes plus the disclosure material the
// holder needs later.
type StoredCredential struct {
	ID     string
	Format Format
	Type   string // credential type / vct / docType

	// Compact is the VC-JWT or SD-JWT issuer-JWT string.
	Compact string

	// Disclosures holds the SD-JWT disclosure strings by claim name.
	Disclosures map[string]string

	// MdocIssuerSigned is the CBOR-encoded IssuerSigned for mdoc entries.
	MdocIssuerSigned []byte
}

// CredentialStore is the holder's in-memory credential shelf: bounded, concurrent,
// insertion-ordered reads.
type CredentialStore struct {
	mu      sync.Mutex
	entries []*StoredCredential
	index   map[string]int
}

const maxStoredCredentials = 100

// NewCredentialStore builds an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		entries: make([]*StoredCredential, 0, maxStoredCredentials),
		index:   map[string]int{},
	}
}

// Add stores cred, rejecting duplicate IDs.
func (s *CredentialStore) Add(cred *StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[cred.ID]; exists {
		return errs.Newf(errs.UsageError, "credential %q already stored", cred.ID)
	}
	if len(s.entries) >= maxStoredCredentials {
		return errs.New(errs.UsageError, "credential store is full")
	}
	s.index[cred.ID] = len(s.entries)
	s.entries = append(s.entries, cred)
	return nil
}

// Get returns the credential with the given ID.
func (s *CredentialStore) Get(id string) (*StoredCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.entries[pos], true
}

// FindByFormat returns the first stored credential in the given format, the common case
// when a request constrains by format container.
func (s *CredentialStore) FindByFormat(format Format) (*StoredCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Format == format {
			return e, true
		}
	}
	return nil, false
}

// All returns a snapshot of every stored credential.
func (s *CredentialStore) All() []*StoredCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StoredCredential, len(s.entries))
	copy(out, s.entries)
	return out
}

// Remove deletes the credential with the given ID.
func (s *CredentialStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].ID] = i
	}
	return true
}
