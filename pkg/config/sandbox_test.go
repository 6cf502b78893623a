package config

import (
	"testing"
)

func TestSandbox_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Sandbox
		wantErr bool
	}{
		{
			name: "valid minimal config",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/mnt/fusebox",
			},
			wantErr: false,
		},
		{
			name: "valid config with rules",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/mnt/fusebox",
				Enforce:    true,
				DenyRead:   []string{"/etc/shadow"},
				DenyWrite:  []string{"/etc"},
				Allow:      []string{"/etc/portage"},
			},
			wantErr: false,
		},
		{
			name: "invalid: empty root",
			cfg: &Sandbox{
				Mountpoint: "/mnt/fusebox",
			},
			wantErr: true,
		},
		{
			name: "valid: empty mountpoint means a temporary one",
			cfg: &Sandbox{
				Root: "/srv/build",
			},
			wantErr: false,
		},
		{
			name: "invalid: root equals mountpoint",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/srv/build",
			},
			wantErr: true,
		},
		{
			name: "invalid: relative deny-read rule",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/mnt/fusebox",
				DenyRead:   []string{"etc"},
			},
			wantErr: true,
		},
		{
			name: "invalid: relative deny-write rule",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/mnt/fusebox",
				DenyWrite:  []string{"etc"},
			},
			wantErr: true,
		},
		{
			name: "invalid: relative allow rule",
			cfg: &Sandbox{
				Root:       "/srv/build",
				Mountpoint: "/mnt/fusebox",
				Allow:      []string{"etc/portage"},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			errs := tc.cfg.Validate()
			if (len(errs) > 0) != tc.wantErr {
				t.Errorf("Sandbox.Validate() errors = %v, wantErr %v", errs, tc.wantErr)
			}
		})
	}
}
