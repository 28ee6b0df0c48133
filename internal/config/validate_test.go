package config

import "testing"

func TestValidateMissingDBCredentials(t *testing.T) {
	var c Config
	if err := c.Validate(true); err == nil {
		t.Fatal("expected error for missing DB credentials")
	}
}

func TestValidateNoPeersNoNodes(t *testing.T) {
	c := Config{}
	c.DB.Host = "localhost"
	c.DB.Database = "chainsyncd"
	c.DB.Username = "root"
	if err := c.Validate(false); err == nil {
		t.Fatal("expected error when neither nodes table nor NETWORK_NODES has peers")
	}
}

func TestValidateOK(t *testing.T) {
	c := Config{}
	c.DB.Host = "localhost"
	c.DB.Database = "chainsyncd"
	c.DB.Username = "root"
	if err := c.Validate(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDSNDefaultsPort(t *testing.T) {
	c := Config{}
	c.DB.Host = "db.internal"
	c.DB.Database = "chainsyncd"
	c.DB.Username = "root"
	c.DB.Password = "secret"
	want := "root:secret@tcp(db.internal:3306)/chainsyncd?parseTime=true"
	if got := c.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}
