package config

import (
	"slices"
	"testing"
	"time"

	"iostitch/common"
	"iostitch/datepath"
	"iostitch/errs"
)

const siteYaml = `
timezone: UTC
database: postgres://reader@db.example.org/lmt
lookback_days: 3
metrics:
  ostreads:
    dataset: readrate
    template:
      cscratch: /data/cscratch/%Y-%m-%d/ostrates.tts
      bscratch:
        - /data/bscratch/%Y-%m-%d/ostrates.tts
        - /data/bscratch-old/%Y/%m/%d/ostrates.tts
chains:
  jobinfo: [slurmfile, jobsdb]
  lfsstatus: [statusfile]
files:
  jobinfo: /var/log/acct/%Y-%m-%d.acct
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(siteYaml))
	if err != nil {
		t.Fatal(err)
	}
	if c.Location() != time.UTC {
		t.Fatal(c.Location())
	}
	if c.Database != "postgres://reader@db.example.org/lmt" {
		t.Fatal(c.Database)
	}
	if c.Lookback() != 3*24*time.Hour {
		t.Fatal(c.Lookback())
	}
	if !slices.Equal(c.Chains["jobinfo"], []string{"slurmfile", "jobsdb"}) {
		t.Fatal(c.Chains)
	}

	m := c.Metrics["ostreads"]
	if m.Dataset != "readrate" {
		t.Fatal(m)
	}
	r := datepath.NewResolver(c.Location())
	at := time.Date(2017, 5, 17, 22, 0, 0, 0, time.UTC)
	paths, err := r.ResolveAt(m.Template.Template(), "cscratch", at)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(paths, []string{"/data/cscratch/2017-05-17/ostrates.tts"}) {
		t.Fatal(paths)
	}
	paths, err = r.ResolveAt(m.Template.Template(), "bscratch", at)
	if err != nil {
		t.Fatal(err)
	}
	expect := []string{
		"/data/bscratch/2017-05-17/ostrates.tts",
		"/data/bscratch-old/2017/05/17/ostrates.tts",
	}
	if !slices.Equal(paths, expect) {
		t.Fatal(paths)
	}

	paths, err = r.ResolveAt(c.Files["jobinfo"].Template(), "", at)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(paths, []string{"/var/log/acct/2017-05-17.acct"}) {
		t.Fatal(paths)
	}
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("metrics: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Location() != time.UTC {
		t.Fatal("default zone must be UTC")
	}
	if c.Lookback() != 7*24*time.Hour {
		t.Fatal(c.Lookback())
	}
}

func TestParseBadTimezone(t *testing.T) {
	_, err := Parse([]byte("timezone: Mars/Olympus_Mons\n"))
	if !errs.IsConfiguration(err) {
		t.Fatal(err)
	}
}

func TestParseDuplicateTemplateKey(t *testing.T) {
	bad := `
metrics:
  m:
    template:
      a: /x/%Y
      a: /y/%Y
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("duplicate keys must be rejected")
	}
}

// A pattern that cannot be satisfied passes config loading and fails at first use.
func TestLazyPatternValidation(t *testing.T) {
	c, err := Parse([]byte("files:\n  x: /bad/%Q\n"))
	if err != nil {
		t.Fatal(err)
	}
	r := datepath.NewResolver(c.Location())
	_, err = r.Resolve(c.Files["x"].Template(), "", common.At(time.Now()))
	if !errs.IsConfiguration(err) {
		t.Fatal(err)
	}
}
