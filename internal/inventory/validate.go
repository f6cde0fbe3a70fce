package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// NormalizeDevice validates d and repairs what can be repaired. Invalid soft
// fields are cleared; a missing or invalid identifier marks the record
// Malformed. The record is never rejected.
func NormalizeDevice(d DeviceRecord) DeviceRecord {
	d.Serial = strings.TrimSpace(d.Serial)
	d.MAC = strings.ToLower(strings.TrimSpace(d.MAC))
	d.LanIP = strings.TrimSpace(d.LanIP)

	for _, fe := range fieldErrors(validate.Struct(d)) {
		switch fe.Field() {
		case "LanIP":
			d.Problems = append(d.Problems, fmt.Sprintf("lan_ip %q is not an ip address", d.LanIP))
			d.LanIP = ""
		case "MAC":
			d.Problems = append(d.Problems, fmt.Sprintf("mac %q is not a hardware address", d.MAC))
			d.MAC = ""
		}
	}
	if d.Serial == "" && d.MAC == "" {
		d.Malformed = true
		d.Problems = append(d.Problems, "missing identifier")
	}
	return d
}

// NormalizeClient is the client counterpart of NormalizeDevice.
func NormalizeClient(c ClientRecord) ClientRecord {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.MAC = strings.ToLower(strings.TrimSpace(c.MAC))
	c.IP = strings.TrimSpace(c.IP)

	for _, fe := range fieldErrors(validate.Struct(c)) {
		switch fe.Field() {
		case "IP":
			c.Problems = append(c.Problems, fmt.Sprintf("ip %q is not an ip address", c.IP))
			c.IP = ""
		case "MAC":
			c.Problems = append(c.Problems, fmt.Sprintf("mac %q is not a hardware address", c.MAC))
			c.MAC = ""
		}
	}
	if c.ClientID == "" && c.MAC == "" {
		c.Malformed = true
		c.Problems = append(c.Problems, "missing identifier")
	}
	return c
}

// ValidLink reports whether both link endpoints are named.
func ValidLink(l LinkRecord) bool {
	l.SourceID = strings.TrimSpace(l.SourceID)
	l.TargetID = strings.TrimSpace(l.TargetID)
	return validate.Struct(l) == nil
}

func fieldErrors(err error) []validator.FieldError {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return nil
}
