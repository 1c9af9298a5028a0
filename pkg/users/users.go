// Package users resolves benchmark issuers to their host identity (uid,
// gid, home directory) through the host bridge. The controller container
// carries no account database of its own, so every lookup is answered by
// the host's name service.
package users

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/hostexec"
	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/types"
)

// Demo identity handed out when no host name service is reachable.
const (
	demoUID  = 1000
	demoGID  = 1000
	demoHome = "/home/xbat"
)

// Resolver answers identity lookups via host commands.
type Resolver struct {
	exec hostexec.Executor
	demo bool
	log  zerolog.Logger
}

// NewResolver creates a Resolver. With demo set, Resolve returns a fixed
// profile instead of querying the host.
func NewResolver(exec hostexec.Executor, demo bool) *Resolver {
	return &Resolver{
		exec: exec,
		demo: demo,
		log:  log.WithComponent("users"),
	}
}

// Resolve retrieves uid, gid and home directory for the given user. It
// returns an error when any of the three host lookups fails or yields a
// non-numeric id.
func (r *Resolver) Resolve(ctx context.Context, username string) (*types.UserProfile, error) {
	if r.demo {
		return &types.UserProfile{
			UserName:      username,
			UID:           demoUID,
			GID:           demoGID,
			HomeDirectory: demoHome,
		}, nil
	}

	retUID, uid := r.exec.Execute(ctx, fmt.Sprintf("id -u %s", username))
	retGID, gid := r.exec.Execute(ctx, fmt.Sprintf("id -g %s", username))
	retHome, home := r.exec.Execute(ctx, fmt.Sprintf("getent passwd %s | cut -d: -f6", username))

	uidNum, uidErr := strconv.ParseInt(uid, 10, 64)
	gidNum, gidErr := strconv.ParseInt(gid, 10, 64)

	if retUID != 0 || retGID != 0 || retHome != 0 || uidErr != nil || gidErr != nil {
		r.log.Error().
			Str("user", username).
			Str("uid", uid).
			Str("gid", gid).
			Str("home", home).
			Msg("Could not retrieve user information from host")
		return nil, fmt.Errorf("failed to resolve user %q on host", username)
	}

	return &types.UserProfile{
		UserName:      username,
		UID:           uidNum,
		GID:           gidNum,
		HomeDirectory: home,
	}, nil
}

// UserNameByUID reverse-resolves a numeric uid to its account name.
func (r *Resolver) UserNameByUID(ctx context.Context, uid int64) (string, error) {
	ret, name := r.exec.Execute(ctx, fmt.Sprintf("getent passwd %d | cut -d: -f1", uid))
	if ret != 0 {
		r.log.Error().Int64("uid", uid).Int("code", ret).
			Msg("Could not retrieve username for uid from host")
		return "", fmt.Errorf("failed to resolve uid %d on host", uid)
	}
	return name, nil
}

// DirOwnedByUser reports whether path is owned by the given identity. The
// numeric owner must match uid and gid, and the owning uid must reverse-
// resolve to the same account name. The reverse lookup guards against uid
// reuse and case-folding collisions in external directories.
func (r *Resolver) DirOwnedByUser(ctx context.Context, path, username string, uid, gid int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	if int64(st.Uid) != uid || int64(st.Gid) != gid {
		return false
	}
	owner, err := r.UserNameByUID(ctx, int64(st.Uid))
	if err != nil {
		return false
	}
	return owner == username
}
