package config

import (
	"reflect"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// Validator lets a configuration struct enforce invariants the tag
// layer cannot express: minimum key lengths, cross-field consistency,
// range checks. [Loader.Load] calls Validate after the `required` tags
// pass, so Validate can assume required fields are populated.
//
// A misconfigured gateway must refuse to start rather than fail open,
// so Validate should reject anything it cannot prove safe:
//
//	func (c *GatewayConfig) Validate() error {
//	    if c.LockoutThreshold <= 0 {
//	        return sserr.New(sserr.CodeValidation,
//	            "config: lockout threshold must be positive")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate runs required-tag checks over the struct, then the struct's
// own Validate when it implements [Validator]. cfg is the original
// interface value for the type assertion; rv is its dereferenced
// struct value.
func validate(cfg any, rv reflect.Value) error {
	if err := requireFields(rv, ""); err != nil {
		return err
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, typed := sserr.AsError(err); typed {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation,
			"config: custom validation failed")
	}
	return nil
}

// requireFields walks the struct and rejects any `required:"true"`
// field left at its zero value. path accumulates the dotted field name
// for the error message, e.g. "Credential.PlatformSigningKey".
func requireFields(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		name := sf.Name
		if path != "" {
			name = path + "." + sf.Name
		}

		// Nested structs are walked so sections like the credential
		// block can carry their own required tags.
		if field.Kind() == reflect.Struct {
			if err := requireFields(field, name); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", name)
		}
	}
	return nil
}
