/*
Copyright 2024 The nightly.link authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("loads values and applies defaults", func(t *testing.T) {
		g := NewWithT(t)

		path := writeConfig(t, `
app_id: 123
private_key_path: /etc/nightly-link/key.pem
token_permissions:
  actions: read
`)
		cfg, err := Load(path)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(cfg.AppID).To(Equal(int64(123)))
		g.Expect(cfg.PrivateKeyPath).To(Equal("/etc/nightly-link/key.pem"))
		g.Expect(cfg.TokenPermissions).To(Equal(map[string]string{"actions": "read"}))
		g.Expect(cfg.ListingTTL).To(Equal(5 * time.Minute))
		g.Expect(cfg.RunListingTTL).To(Equal(30 * time.Second))
		g.Expect(cfg.Retries).To(Equal(3))
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		g := NewWithT(t)

		path := writeConfig(t, `
app_id: 123
private_key_path: /etc/nightly-link/key.pem
`)
		t.Setenv(EnvAppID, "456")
		t.Setenv(EnvAPIBaseURL, "https://github.example.com/api/v3")

		cfg, err := Load(path)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(cfg.AppID).To(Equal(int64(456)))
		g.Expect(cfg.APIBaseURL).To(Equal("https://github.example.com/api/v3"))
	})

	t.Run("missing app_id fails validation", func(t *testing.T) {
		g := NewWithT(t)

		path := writeConfig(t, `private_key_path: /etc/nightly-link/key.pem`)
		_, err := Load(path)
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("app_id must be set"))
	})

	t.Run("missing key path fails validation", func(t *testing.T) {
		g := NewWithT(t)

		path := writeConfig(t, `app_id: 123`)
		_, err := Load(path)
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("private_key_path must be set"))
	})

	t.Run("unreadable file fails", func(t *testing.T) {
		g := NewWithT(t)
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		g.Expect(err).To(HaveOccurred())
	})
}

func TestConfig_PrivateKey(t *testing.T) {
	g := NewWithT(t)

	keyPath := filepath.Join(t.TempDir(), "key.pem")
	g.Expect(os.WriteFile(keyPath, []byte("pem-data"), 0o600)).To(Succeed())

	cfg := &Config{AppID: 1, PrivateKeyPath: keyPath}
	key, err := cfg.PrivateKey()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(key).To(Equal([]byte("pem-data")))

	cfg.PrivateKeyPath = filepath.Join(t.TempDir(), "absent.pem")
	_, err = cfg.PrivateKey()
	g.Expect(err).To(HaveOccurred())
}
