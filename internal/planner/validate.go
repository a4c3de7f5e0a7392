package planner

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
)

var (
	validate = newValidator()

	// pkgver may not contain colons, slashes, hyphens or whitespace.
	pkgverPattern = regexp.MustCompile(`^[^:/\s-]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("archname", func(fl validator.FieldLevel) bool {
		return archutils.ValidName(fl.Field().String())
	})
	_ = v.RegisterValidation("archver", func(fl validator.FieldLevel) bool {
		return pkgverPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("archarch", func(fl validator.FieldLevel) bool {
		return archutils.ValidArch(fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		d := sl.Current().Interface().(archutils.Dependency)
		if !archutils.ValidName(d.Name) {
			sl.ReportError(d.Name, "Name", "Name", "archname", "")
		}
		if (d.Op == "") != (d.Version == "") {
			sl.ReportError(d.Version, "Version", "Version", "required_with", "Op")
		}
	}, archutils.Dependency{})
	return v
}

// validateMetadata checks the target metadata and flattens validator
// errors into one readable message.
func validateMetadata(m *TargetMetadata) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%q fails %s", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
