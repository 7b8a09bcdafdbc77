package pty

import (
	"os"
	"strconv"
	"strings"

	"github.com/forkline/core/internal/portutil"
)

// envBlocklist names variables stripped from every child environment
// regardless of what the caller requested, because they would leak this
// process's own credentials/state into an arbitrary agent CLI.
var envBlocklist = []string{
	"FORKLINE_CORE_TOKEN",
	"FORKLINE_APPROVAL_TOKEN",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
}

func isBlocked(name string) bool {
	upper := strings.ToUpper(name)
	for _, b := range envBlocklist {
		if upper == b {
			return true
		}
	}
	return false
}

// buildChildEnv starts from the current process environment, applies
// overrides (dropping blocklisted or empty-valued entries), and injects a
// freshly allocated port under the agreed variable names.
func buildChildEnv(taskID string, overrides map[string]string) ([]string, int, error) {
	port, err := portutil.AllocatePort()
	if err != nil {
		return nil, 0, err
	}

	base := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	for k := range base {
		if isBlocked(k) {
			delete(base, k)
		}
	}
	for k, v := range overrides {
		if isBlocked(k) || v == "" {
			continue
		}
		base[k] = v
	}

	portStr := strconv.Itoa(port)
	base["PORT"] = portStr
	base["HOST"] = "127.0.0.1"
	base["ASPNETCORE_URLS"] = "http://127.0.0.1:" + portStr
	base["FORKLINE_SESSION_ID"] = taskID
	base["FORKLINE_ALLOCATED_PORT"] = portStr

	env := make([]string, 0, len(base))
	for k, v := range base {
		env = append(env, k+"="+v)
	}
	return env, port, nil
}
