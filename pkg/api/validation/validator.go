// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks API request bodies with go-playground/validator
// plus a few link-specific rules.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-link/pkg/link"
	linkmodels "github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingParams = errors.New("missing params")
	ErrInvalidParams = errors.New("invalid params")
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("linkmode", validateLinkMode)
	_ = v.RegisterValidation("cmdkind", validateCommandKind)
	_ = v.RegisterValidation("baudrate", validateBaudRate)
	v.RegisterStructValidation(validateCommandParams, models.CommandParams{})

	return &Validator{validate: v}
}

var DefaultValidator = NewValidator()

func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal decodes a JSON body into dest and validates it.
func ValidateAndUnmarshal[T any](body []byte, dest *T) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return ErrMissingParams
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return DefaultValidator.Validate(dest)
}

func validateLinkMode(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return true
	}
	_, ok := linkmodels.ParseLinkMode(val)
	return ok
}

func validateCommandKind(fl validator.FieldLevel) bool {
	_, ok := link.ParseCommandKind(fl.Field().String())
	return ok
}

// validateBaudRate accepts an empty value or a positive decimal integer.
func validateBaudRate(fl validator.FieldLevel) bool {
	val := strings.TrimSpace(fl.Field().String())
	if val == "" {
		return true
	}
	n, err := strconv.Atoi(val)
	return err == nil && n > 0
}

// validateCommandParams checks hex payloads decode before they reach the
// controller.
func validateCommandParams(sl validator.StructLevel) {
	params, ok := sl.Current().Interface().(models.CommandParams)
	if !ok || params.Kind != string(link.CommandHex) || params.Payload == "" {
		return
	}
	if _, err := link.DecodeHex(params.Payload); err != nil {
		sl.ReportError(params.Payload, "Payload", "Payload", "hexdata", "")
	}
}
