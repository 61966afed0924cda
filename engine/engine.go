package engine

import (
	"log"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const locationHash = "tram:location"

var ErrNotFound = errors.New("key not found")

// Engine is a replica's private tram location table. It lives on an
// in-memory filesystem, so nothing survives a restart.
type Engine struct {
	Db *pebble.DB
}

func NewEngine(name string) (*Engine, error) {
	db, err := pebble.Open(name, &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		log.Printf("❌ Failed to open Pebble DB %s: %v", name, err)
		return nil, errors.Wrapf(err, "open location table %s", name)
	}
	return &Engine{Db: db}, nil
}

func (e *Engine) Close() {
	if e.Db != nil {
		e.Db.Close()
	}
}

// HGet returns the value of field in hash.
func (e *Engine) HGet(hash, field string) (string, error) {
	if e.Db == nil {
		return "", errors.New("database not initialized")
	}
	val, closer, err := e.Db.Get([]byte(hash + ":" + field))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(val), nil
}

func (e *Engine) HSet(hash, field, value string) error {
	key := hash + ":" + field
	return e.Db.Set([]byte(key), []byte(value), pebble.NoSync)
}

// SetLocation overwrites the stop recorded for tramID.
func (e *Engine) SetLocation(tramID, stopID int) error {
	if err := e.HSet(locationHash, strconv.Itoa(tramID), strconv.Itoa(stopID)); err != nil {
		return errors.Wrapf(err, "set location of tram %d", tramID)
	}
	return nil
}

// Location returns the last stop recorded for tramID.
func (e *Engine) Location(tramID int) (int, bool, error) {
	val, err := e.HGet(locationHash, strconv.Itoa(tramID))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get location of tram %d", tramID)
	}
	stop, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt location %q for tram %d", val, tramID)
	}
	return stop, true, nil
}

// Locations returns every recorded tram location.
func (e *Engine) Locations() (map[int]int, error) {
	prefix := []byte(locationHash + ":")
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++

	iter, err := e.Db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, "create iterator")
	}
	defer iter.Close()

	out := map[int]int{}
	for ok := iter.First(); ok; ok = iter.Next() {
		tram, err := strconv.Atoi(strings.TrimPrefix(string(iter.Key()), string(prefix)))
		if err != nil {
			log.Printf("[WARN] skipping location key %q: %v", iter.Key(), err)
			continue
		}
		stop, err := strconv.Atoi(string(iter.Value()))
		if err != nil {
			log.Printf("[WARN] skipping location value %q for tram %d: %v", iter.Value(), tram, err)
			continue
		}
		out[tram] = stop
	}
	return out, iter.Error()
}
