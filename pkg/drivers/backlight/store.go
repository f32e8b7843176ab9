package backlight

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
)

const bucket = "beamhub"

type Config struct {
	bus.Config

	MinLevel float64
	MaxLevel float64
}

var defaultConfig = Config{
	Config: bus.Config{
		Broker:    "tcp://localhost:1883",
		ClientID:  "beamhub-backlight",
		TopicRoot: "beamline/backlight",
	},
	MinLevel: 0,
	MaxLevel: 100,
}

type store struct {
	db  *bolt.DB
	key string
}

// NewStore creates a store for one light instance. The key carries the object
// number so front and back lights keep separate configurations.
func NewStore(db *bolt.DB, number int) (*store, error) {
	st := store{
		db:  db,
		key: fmt.Sprintf("backlight_%d_config", number),
	}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default backlight config for %s", s.key)
		return s.SetConfig(defaultConfig)
	}

	return nil
}

func (s *store) SetConfig(cfg Config) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(cfg)
		return b.Put([]byte(s.key), value)
	})
}

func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(s.key))
		if value == nil {
			return fmt.Errorf("key config not found")
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
