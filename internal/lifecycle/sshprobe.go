package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// The probe deadline is deliberately short and independent of the rest of
// the system: a guest that is still booting is expected to fail it.
const sshProbeTimeout = 3 * time.Second

func (c *Controller) dialSSH(_ context.Context) SSHState {
	clientConfig := &ssh.ClientConfig{
		User:            "ubuntu",
		Auth:            c.authMethods(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshProbeTimeout,
	}

	addr := fmt.Sprintf("localhost:%d", c.profile.SSHPort)
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return SSHNotReady
	}
	client.Close()

	return SSHAccessible
}

func (c *Controller) authMethods() []ssh.AuthMethod {
	keyBytes, err := os.ReadFile(c.sshKeyPath)
	if err != nil {
		return nil
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}
}
