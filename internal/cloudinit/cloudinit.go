// Package cloudinit generates the NoCloud seed for first-boot guest
// configuration: a user-data cloud-config document, an instance meta-data
// file, and the ISO image delivering both.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	UserDataFile = "user-data"
	MetaDataFile = "meta-data"
	SeedISOFile  = "cloud-init.iso"

	// PublicKeyPlaceholder is written into user-data when the seed is first
	// materialized and replaced with the real public key once the keypair
	// exists. Keeping it a syntactically plausible key means a seed that was
	// never patched still parses as cloud-config.
	PublicKeyPlaceholder = "ssh-rsa AAAAB3NzaC1yc2E-PLACEHOLDER hatchery@localhost"

	// Password hash for 'ubuntu', generated with: openssl passwd -6 ubuntu
	ubuntuPasswdHash = "$6$rounds=4096$saltsalt$IxDD3jeSOb5eB1CX5LBsqZFVkJdido3OUILO5Ue7442fiqxjRp0t/PQMFz2bJXaFS2dovcGkT0.vWu5SqN9V4/"
)

// UserData is the cloud-config document structure.
type UserData struct {
	Users           []User      `yaml:"users"`
	SSHPasswordAuth bool        `yaml:"ssh_pwauth"`
	DisableRoot     bool        `yaml:"disable_root"`
	Packages        []string    `yaml:"packages"`
	WriteFiles      []WriteFile `yaml:"write_files,omitempty"`
	RunCmd          []string    `yaml:"runcmd,omitempty"`
	FinalMessage    string      `yaml:"final_message,omitempty"`
}

type User struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Shell             string   `yaml:"shell"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	Passwd            string   `yaml:"passwd"`
}

type WriteFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions"`
}

// MetaData is the NoCloud instance metadata. The instance-id doubles as the
// first-boot marker: recreating a VM under the same name re-runs cloud-init.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// DefaultUserData returns the headless-SSH-access configuration for a
// freshly provisioned Ubuntu guest: an ubuntu user with passwordless sudo,
// the placeholder authorized key, baseline packages and an sshd drop-in.
func DefaultUserData() UserData {
	return UserData{
		Users: []User{
			{
				Name:              "ubuntu",
				Sudo:              "ALL=(ALL) NOPASSWD:ALL",
				Shell:             "/bin/bash",
				SSHAuthorizedKeys: []string{PublicKeyPlaceholder},
				LockPasswd:        false,
				Passwd:            ubuntuPasswdHash,
			},
		},
		SSHPasswordAuth: true,
		DisableRoot:     false,
		Packages: []string{
			"openssh-server",
			"curl",
			"wget",
			"git",
			"htop",
			"vim",
			"net-tools",
		},
		WriteFiles: []WriteFile{
			{
				Path:        "/etc/ssh/sshd_config.d/custom.conf",
				Content:     "PermitRootLogin yes\nPasswordAuthentication yes\nPubkeyAuthentication yes\n",
				Permissions: "0644",
			},
		},
		RunCmd: []string{
			"systemctl enable ssh",
			"systemctl start ssh",
			"ufw --force enable",
			"ufw allow ssh",
			"systemctl restart ssh",
			`echo "Cloud-init setup completed" > /var/log/cloud-init-complete.log`,
		},
		FinalMessage: "Ubuntu VM is ready! SSH available on port 22",
	}
}

// RenderUserData marshals the cloud-config document with the required
// "#cloud-config" header.
func RenderUserData(ud UserData) ([]byte, error) {
	body, err := yaml.Marshal(&ud)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user-data: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("#cloud-config\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// RenderMetaData marshals the instance metadata for the named VM.
func RenderMetaData(name string) ([]byte, error) {
	md := MetaData{
		InstanceID:    name,
		LocalHostname: name,
	}

	body, err := yaml.Marshal(&md)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta-data: %w", err)
	}
	return body, nil
}

// WriteSeedFiles materializes user-data and meta-data into dir.
func WriteSeedFiles(dir, vmName string) error {
	userData, err := RenderUserData(DefaultUserData())
	if err != nil {
		return err
	}

	metaData, err := RenderMetaData(vmName)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, UserDataFile), userData, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", UserDataFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaDataFile), metaData, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", MetaDataFile, err)
	}

	return nil
}

// InjectPublicKey replaces the placeholder credential in an already
// materialized user-data with the real public key. Calling it when the
// placeholder is gone is a no-op, so re-running provisioning is safe.
func InjectPublicKey(dir, publicKey string) error {
	path := filepath.Join(dir, UserDataFile)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", UserDataFile, err)
	}

	publicKey = strings.TrimSpace(publicKey)
	updated := strings.ReplaceAll(string(content), PublicKeyPlaceholder, publicKey)
	if updated == string(content) {
		return nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", UserDataFile, err)
	}

	return nil
}
