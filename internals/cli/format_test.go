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

package cli_test

import (
	"time"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/cli"
)

func (s *OtactlSuite) TestTruncate(c *C) {
	c.Check(cli.Truncate("short", 10), Equals, "short")
	c.Check(cli.Truncate("a rather long message", 10), Equals, "a rather long message")

	restore := cli.FakeIsStdoutTTY(true)
	defer restore()
	c.Check(cli.Truncate("short", 10), Equals, "short")
	c.Check(cli.Truncate("a rather long message", 10), Equals, "a rathe...")
	c.Check(cli.Truncate("ünïcödé text", 8), Equals, "ünïcö...")
}

func (s *OtactlSuite) TestFormatTime(c *C) {
	t := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	c.Check(cli.FormatTime(t), Equals, "2024-05-01T10:30:00Z")
}
