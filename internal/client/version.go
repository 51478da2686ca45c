package client

import (
	"errors"
	"fmt"

	"github.com/blang/semver"
)

// ErrIncompatibleHelper is returned when the helper speaks a different major protocol version.
var ErrIncompatibleHelper = errors.New("incompatible helper version")

// CheckHelperVersion compares the client build version with the version a
// helper reported. Builds without a semantic version (such as "dev") are
// always accepted.
func CheckHelperVersion(clientVersion, helperVersion string) error {
	vClient, err := semver.ParseTolerant(clientVersion)
	if err != nil {
		return nil
	}
	vHelper, err := semver.ParseTolerant(helperVersion)
	if err != nil {
		return nil
	}
	if vClient.Major != vHelper.Major {
		return fmt.Errorf("%w: client %s, helper %s", ErrIncompatibleHelper, vClient, vHelper)
	}
	return nil
}
