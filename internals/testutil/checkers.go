// Copyright (c) 2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package testutil

import (
	"errors"
	"fmt"

	"gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/ota"
)

// ErrorIs calls errors.Is with the provided arguments.
var ErrorIs check.Checker = &errorIsChecker{
	&check.CheckerInfo{Name: "ErrorIs", Params: []string{"error", "target"}},
}

type errorIsChecker struct {
	*check.CheckerInfo
}

func (*errorIsChecker) Check(params []interface{}, names []string) (result bool, errMsg string) {
	if params[0] == nil {
		return params[1] == nil, ""
	}
	err, ok := params[0].(error)
	if !ok {
		return false, "first argument must be an error"
	}
	target, ok := params[1].(error)
	if !ok {
		return false, "second argument must be an error"
	}
	return errors.Is(err, target), ""
}

// ErrorKind checks that an error carries the given ota.Kind.
//
//	c.Check(err, testutil.ErrorKind, ota.ErrorKindPolicyViolation)
var ErrorKind check.Checker = &errorKindChecker{
	&check.CheckerInfo{Name: "ErrorKind", Params: []string{"error", "kind"}},
}

type errorKindChecker struct {
	*check.CheckerInfo
}

func (*errorKindChecker) Check(params []interface{}, names []string) (result bool, errMsg string) {
	kind, ok := params[1].(ota.Kind)
	if !ok {
		return false, "second argument must be an ota.Kind"
	}
	if params[0] == nil {
		return false, fmt.Sprintf("expected %s error, got nil", kind)
	}
	err, ok := params[0].(error)
	if !ok {
		return false, "first argument must be an error"
	}
	if got := ota.KindOf(err); got != kind {
		return false, fmt.Sprintf("expected %s error, got %q (%v)", kind, got, err)
	}
	return true, ""
}
