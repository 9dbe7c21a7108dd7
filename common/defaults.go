// Per-user default settings, read from $HOME/.iostitch at startup.  These back up command line
// arguments that were not supplied; a nonempty argument always wins.

package common

import (
	"errors"
	"os"
	"path"

	ini "github.com/lars-t-hansen/ini"
)

// MT: Constant after initialization
var (
	p          = ini.NewParser()
	store      *ini.Store
	defaults   = p.AddSection("defaults")
	DefConfig  = defaults.AddString("config")
	DefDataDir = defaults.AddString("data-dir")
	DefDb      = defaults.AddString("database")
	DefCache   = defaults.AddString("cache-file")
	DefBroker  = defaults.AddString("broker")
)

func init() {
	home := os.Getenv("HOME")
	if home == "" {
		return
	}
	fn := path.Join(path.Clean(home), ".iostitch")
	input, err := os.Open(fn)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			Log.Errorf("Error in trying to open %s: %s", fn, err.Error())
		}
		return
	}
	defer input.Close()
	store, err = p.Parse(input)
	if err != nil {
		Log.Errorf("Error in trying to parse %s: %s", fn, err.Error())
		return
	}
}

// ApplyDefault stores the default value for f in *sp if *sp is empty and a default is present,
// with environment variables expanded.  Returns true if *sp was updated.
func ApplyDefault(sp *string, f *ini.Field) bool {
	if *sp != "" || store == nil || !f.Present(store) {
		return false
	}
	*sp = os.ExpandEnv(f.StringVal(store))
	return true
}
