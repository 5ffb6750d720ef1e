package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds the parameters for opening a run store.
type Config struct {
	// DataDir is the store directory. It is created if missing.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir" validate:"required,notblank"`

	// Compress gzips the record log (records.jsonl.gz).
	Compress bool `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// Config validation errors.
var (
	ErrDataDirEmpty = errors.New("data directory must not be empty")
)

var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.StructField() == "DataDir" {
				return ErrDataDirEmpty
			}
		}
	}
	return fmt.Errorf("validating config: %w", err)
}
