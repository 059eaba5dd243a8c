// Package lexicalopts provides options for the lexical (keyword) index.
package lexicalopts

import (
	"fmt"

	"github.com/kart-io/ragway/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains lexical index configuration.
type Options struct {
	// Path is the on-disk index location. Empty means an in-memory index.
	Path string `json:"path" mapstructure:"path"`

	// IndexName is the logical index name.
	IndexName string `json:"index-name" mapstructure:"index-name"`

	// BatchSize is the indexing batch size.
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Path:      "_output/lexical-index",
		IndexName: "ragway_chunks",
		BatchSize: 100,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, options.Join(prefixes...)+"lexical.path", o.Path, "On-disk index location; empty for in-memory.")
	fs.StringVar(&o.IndexName, options.Join(prefixes...)+"lexical.index-name", o.IndexName, "Logical index name.")
	fs.IntVar(&o.BatchSize, options.Join(prefixes...)+"lexical.batch-size", o.BatchSize, "Indexing batch size.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.IndexName == "" {
		errs = append(errs, fmt.Errorf("lexical index-name is required"))
	}
	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("lexical batch-size must be positive"))
	}
	return errs
}
