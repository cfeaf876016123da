// Package config defines the estimation settings and problem files read by the rigpose command.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/rigpose"
)

// DefaultRelativeMaxError is the relative pose inlier threshold, in normalized camera units, used
// when a config does not set one.
const DefaultRelativeMaxError = 1e-3

// Config holds the options of the three estimation stages.
type Config struct {
	// RANSAC configures absolute pose estimation. Its max_error is in pixels.
	RANSAC ransac.Options `json:"ransac"`
	// RelativeRANSAC configures relative pose estimation. Its max_error is in normalized camera
	// units.
	RelativeRANSAC ransac.Options             `json:"relative_ransac"`
	Refinement     rigpose.RefinementOptions `json:"refinement"`
}

// Default returns the config used when no file is given.
func Default() *Config {
	relative := ransac.DefaultOptions()
	relative.MaxError = DefaultRelativeMaxError
	return &Config{
		RANSAC:         ransac.DefaultOptions(),
		RelativeRANSAC: relative,
		Refinement:     rigpose.DefaultRefinementOptions(),
	}
}

// Validate checks every section, collecting all problems.
func (c *Config) Validate(path string) error {
	var errs error
	if err := c.RANSAC.Check(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.ransac", path), err))
	}
	if err := c.RelativeRANSAC.Check(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.relative_ransac", path), err))
	}
	if err := c.Refinement.Check(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.refinement", path), err))
	}
	return errs
}

// FromAttributes decodes a config from loosely typed attributes, such as a parsed JSON object,
// on top of the defaults. Unknown keys are rejected and the result is validated.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if len(md.Unused) > 0 {
		return nil, errors.Errorf("unknown config fields %v", md.Unused)
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}
