package config

import "strings"

var strftimeLayout = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%e", "_2",
	"%H", "15",
	"%I", "03",
	"%M", "04",
	"%S", "05",
	"%p", "PM",
	"%b", "Jan",
	"%B", "January",
	"%a", "Mon",
	"%A", "Monday",
	"%j", "002",
	"%z", "-0700",
	"%Z", "MST",
	"%%", "%",
)

// DateLayout returns the time layout equivalent to the strftime DateFormat
func (c *Config) DateLayout() string {
	return strftimeLayout.Replace(c.DateFormat)
}
