// Package conference holds the read-only conference configuration: capacity,
// fee schedule and registration window, loaded from a YAML catalog.
package conference

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrUnknownConference = errors.New("unknown conference")

// EarlyBird is a reduced fee available up to and including Deadline.
type EarlyBird struct {
	Amount   int64     `yaml:"amount" json:"amount"`
	Deadline time.Time `yaml:"deadline" json:"deadline"`
}

// FeeSchedule amounts are in the currency's minor unit (cents).
type FeeSchedule struct {
	Member    int64      `yaml:"member" json:"member"`
	NonMember int64      `yaml:"non_member" json:"non_member"`
	Student   int64      `yaml:"student" json:"student"`
	Speaker   int64      `yaml:"speaker" json:"speaker"`
	EarlyBird *EarlyBird `yaml:"early_bird,omitempty" json:"early_bird,omitempty"`
}

// Window bounds when registrations are accepted. A zero bound is open-ended.
type Window struct {
	OpensAt  time.Time `yaml:"opens_at" json:"opens_at"`
	ClosesAt time.Time `yaml:"closes_at" json:"closes_at"`
}

func (w Window) Contains(t time.Time) bool {
	if !w.OpensAt.IsZero() && t.Before(w.OpensAt) {
		return false
	}
	if !w.ClosesAt.IsZero() && t.After(w.ClosesAt) {
		return false
	}
	return true
}

type Conference struct {
	ID           string      `yaml:"id" json:"id"`
	Name         string      `yaml:"name" json:"name"`
	Capacity     int         `yaml:"capacity" json:"capacity"`
	Currency     string      `yaml:"currency" json:"currency"`
	Fees         FeeSchedule `yaml:"fees" json:"fees"`
	Window       Window      `yaml:"window" json:"window"`
	SpeakerCodes []string    `yaml:"speaker_codes" json:"-"`
}

// IsSpeakerCode reports whether code is one of the conference's invited speaker codes.
func (c Conference) IsSpeakerCode(code string) bool {
	code = strings.TrimSpace(code)
	return code != "" && slices.Contains(c.SpeakerCodes, code)
}

func (c Conference) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("conference id is required")
	}
	if c.Capacity < 0 {
		return fmt.Errorf("conference %s: capacity must not be negative", c.ID)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("conference %s: currency must be a 3-letter ISO code", c.ID)
	}
	f := c.Fees
	if f.Member < 0 || f.NonMember < 0 || f.Student < 0 || f.Speaker < 0 {
		return fmt.Errorf("conference %s: fees must not be negative", c.ID)
	}
	if f.EarlyBird != nil {
		if f.EarlyBird.Amount < 0 {
			return fmt.Errorf("conference %s: early bird fee must not be negative", c.ID)
		}
		if f.EarlyBird.Deadline.IsZero() {
			return fmt.Errorf("conference %s: early bird deadline is required", c.ID)
		}
	}
	w := c.Window
	if !w.OpensAt.IsZero() && !w.ClosesAt.IsZero() && !w.OpensAt.Before(w.ClosesAt) {
		return fmt.Errorf("conference %s: registration window must open before it closes", c.ID)
	}
	return nil
}

type Catalog struct {
	byID  map[string]Conference
	order []string
}

func NewCatalog(conferences ...Conference) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Conference, len(conferences))}
	for _, conf := range conferences {
		if err := conf.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[conf.ID]; dup {
			return nil, fmt.Errorf("conference %s defined twice", conf.ID)
		}
		conf.Currency = strings.ToUpper(conf.Currency)
		c.byID[conf.ID] = conf
		c.order = append(c.order, conf.ID)
	}
	return c, nil
}

type catalogFile struct {
	Conferences []Conference `yaml:"conferences"`
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse conference catalog: %w", err)
	}
	return NewCatalog(file.Conferences...)
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conference catalog: %w", err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) Get(id string) (Conference, error) {
	conf, ok := c.byID[id]
	if !ok {
		return Conference{}, fmt.Errorf("%w: %s", ErrUnknownConference, id)
	}
	return conf, nil
}

func (c *Catalog) All() []Conference {
	out := make([]Conference, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}
