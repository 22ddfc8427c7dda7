package webhooks

import (
	"fmt"
	"strings"
)

// SecretKeyring holds the relay's shared secret plus, during a rotation
// window, the previous secret. Signatures are accepted against either so a
// rotation never drops in-flight deliveries.
type SecretKeyring struct {
	Active   string
	Previous string
}

func NewSecretKeyring(active string, previous string) (SecretKeyring, error) {
	active = strings.TrimSpace(active)
	if active == "" {
		return SecretKeyring{}, fmt.Errorf("webhooks: active webhook secret is required")
	}
	return SecretKeyring{
		Active:   active,
		Previous: strings.TrimSpace(previous),
	}, nil
}

// Candidates returns the secrets to try in verification order.
func (k SecretKeyring) Candidates() []string {
	candidates := make([]string, 0, 2)
	if strings.TrimSpace(k.Active) != "" {
		candidates = append(candidates, strings.TrimSpace(k.Active))
	}
	if strings.TrimSpace(k.Previous) != "" {
		candidates = append(candidates, strings.TrimSpace(k.Previous))
	}
	return candidates
}
