package tokenstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/qcom/librarian/internal/models"
	bolt "go.etcd.io/bbolt"
)

var bktSession = []byte("session")

// Bolt persists the pair in a local bbolt file. Both keys change inside one
// transaction, so a crash never leaves half a pair behind.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening token file %s", path)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Load(_ context.Context) (models.TokenPair, error) {
	var pair models.TokenPair
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bktSession)
		if bkt == nil {
			return ErrNotFound
		}
		// values are only valid inside the transaction
		pair.AccessToken = string(bkt.Get([]byte(AccessTokenKey)))
		pair.RefreshToken = string(bkt.Get([]byte(RefreshTokenKey)))
		if !pair.Complete() {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return models.TokenPair{}, err
	}
	return pair, nil
}

func (b *Bolt) Save(_ context.Context, pair models.TokenPair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(bktSession)
		if err != nil {
			return errors.Wrap(err, "creating session bucket")
		}
		if err = bkt.Put([]byte(AccessTokenKey), []byte(pair.AccessToken)); err != nil {
			return errors.Wrap(err, "failed to put access token")
		}
		if err = bkt.Put([]byte(RefreshTokenKey), []byte(pair.RefreshToken)); err != nil {
			return errors.Wrap(err, "failed to put refresh token")
		}
		return nil
	})
}

func (b *Bolt) Clear(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bktSession)
		if bkt == nil {
			return nil
		}
		if err := bkt.Delete([]byte(AccessTokenKey)); err != nil {
			return errors.Wrap(err, "failed to delete access token")
		}
		if err := bkt.Delete([]byte(RefreshTokenKey)); err != nil {
			return errors.Wrap(err, "failed to delete refresh token")
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
