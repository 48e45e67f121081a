package settings

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "settings"

const (
	KeyURL         = "url"
	KeyTenant      = "tenant"
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyAuthTicket  = "auth_ticket"
	KeyProjectName = "project_name"
	KeyExported    = "current_documents_exported"
)

var allKeys = []string{KeyURL, KeyTenant, KeyUsername, KeyPassword, KeyAuthTicket, KeyProjectName, KeyExported}

// SignInData is what the user entered to reach a FlexiCapture server
type SignInData struct {
	URL        string `json:"url"`
	Tenant     string `json:"tenant"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	AuthTicket string `json:"-"`
}

// UserData is the user's working state
type UserData struct {
	ProjectName                             string `json:"project_name"`
	CurrentDocumentsAreSuccessfullyExported bool   `json:"current_documents_exported"`
}

// Store persists settings in a BoltDB file, one key per field
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the settings file at path
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening settings: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the settings file
func (s *Store) Close() error {
	return s.db.Close()
}

// String returns the value for key, or "" if it is not set
func (s *Store) String(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		value = string(tx.Bucket([]byte(bucketName)).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// SetString stores value under key. An empty value removes the key.
func (s *Store) SetString(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(bucketName)), key, value)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Bool returns the value for key, false if it is not set
func (s *Store) Bool(key string) (bool, error) {
	value, err := s.String(key)
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// SetBool stores value under key
func (s *Store) SetBool(key string, value bool) error {
	if value {
		return s.SetString(key, "1")
	}
	return s.SetString(key, "")
}

// SignInData returns the stored sign-in fields
func (s *Store) SignInData() (SignInData, error) {
	var data SignInData
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data = SignInData{
			URL:        string(bucket.Get([]byte(KeyURL))),
			Tenant:     string(bucket.Get([]byte(KeyTenant))),
			Username:   string(bucket.Get([]byte(KeyUsername))),
			Password:   string(bucket.Get([]byte(KeyPassword))),
			AuthTicket: string(bucket.Get([]byte(KeyAuthTicket))),
		}
		return nil
	})
	if err != nil {
		return SignInData{}, fmt.Errorf("reading sign-in data: %w", err)
	}
	return data, nil
}

// SaveSignInData writes every sign-in field in one transaction
func (s *Store) SaveSignInData(data SignInData) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		fields := map[string]string{
			KeyURL:        data.URL,
			KeyTenant:     data.Tenant,
			KeyUsername:   data.Username,
			KeyPassword:   data.Password,
			KeyAuthTicket: data.AuthTicket,
		}
		for key, value := range fields {
			if err := put(bucket, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing sign-in data: %w", err)
	}
	return nil
}

// SetAuthTicket replaces the stored auth ticket
func (s *Store) SetAuthTicket(ticket string) error {
	return s.SetString(KeyAuthTicket, ticket)
}

// UserData returns the stored user state
func (s *Store) UserData() (UserData, error) {
	project, err := s.String(KeyProjectName)
	if err != nil {
		return UserData{}, err
	}
	exported, err := s.Bool(KeyExported)
	if err != nil {
		return UserData{}, err
	}
	return UserData{ProjectName: project, CurrentDocumentsAreSuccessfullyExported: exported}, nil
}

// SetProjectName selects the project documents are exported to
func (s *Store) SetProjectName(name string) error {
	return s.SetString(KeyProjectName, name)
}

// SetExported records whether the current documents reached the server
func (s *Store) SetExported(exported bool) error {
	return s.SetBool(KeyExported, exported)
}

// Authorized reports whether enough is stored to talk to the server: a URL,
// and either a username and password or an auth ticket.
func (s *Store) Authorized() (bool, error) {
	data, err := s.SignInData()
	if err != nil {
		return false, err
	}
	if data.URL == "" {
		return false, nil
	}
	return (data.Username != "" && data.Password != "") || data.AuthTicket != "", nil
}

// SignOut removes every stored setting
func (s *Store) SignOut() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		for _, key := range allKeys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

func put(bucket *bbolt.Bucket, key, value string) error {
	if value == "" {
		return bucket.Delete([]byte(key))
	}
	return bucket.Put([]byte(key), []byte(value))
}
