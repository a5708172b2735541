package handler

import (
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const maxURLLength = 2048

type createRequest struct {
	OriginalURL string `json:"originalUrl"`
}

func (r createRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OriginalURL,
			validation.Required,
			validation.Length(1, maxURLLength),
			is.URL,
			validation.By(validateScheme),
		),
	)
}

func validateScheme(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
