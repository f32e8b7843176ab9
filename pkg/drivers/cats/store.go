package cats

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
)

const (
	bucket    = "beamhub"
	configKey = "cats_config"
)

type Config struct {
	bus.Config

	Lids          int // number of dewar lids
	SamplesPerLid int
}

var defaultConfig = Config{
	Config: bus.Config{
		Broker:    "tcp://localhost:1883",
		ClientID:  "beamhub-cats",
		TopicRoot: "beamline/cats",
	},
	Lids:          3,
	SamplesPerLid: 16,
}

type store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default sample changer config")
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
		return b.Put([]byte(configKey), value)
	})
}

func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key config not found")
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
