package zoom

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"beamhub/pkg/bus"
	"beamhub/pkg/hwobj"
)

const (
	bucket    = "beamhub"
	configKey = "zoom_config"
)

type Config struct {
	bus.Config

	MinPosition float64
	MaxPosition float64
	Positions   []hwobj.PredefinedPosition
}

var defaultConfig = Config{
	Config: bus.Config{
		Broker:    "tcp://localhost:1883",
		ClientID:  "beamhub-zoom",
		TopicRoot: "beamline/zoom",
	},
	MinPosition: 0,
	MaxPosition: 12,
	Positions: []hwobj.PredefinedPosition{
		{Name: "Zoom 1", Value: 0},
		{Name: "Zoom 2", Value: 2},
		{Name: "Zoom 3", Value: 4},
		{Name: "Zoom 4", Value: 6},
		{Name: "Zoom 5", Value: 8},
		{Name: "Zoom 6", Value: 10},
		{Name: "Zoom 7", Value: 12},
	},
}

type store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default zoom config")
		return s.SetConfig(defaultConfig)
	}

	return nil
}

// SetConfig saves the zoom configuration as a json string in the database.
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

// GetConfig retrieves the zoom configuration from the database.
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
