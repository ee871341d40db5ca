package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"

	"github.com/k64z/steamguard/config"
	"github.com/k64z/steamguard/prompt"
	"github.com/k64z/steamguard/steamapi"
	"github.com/k64z/steamguard/steamcommunity"
	"github.com/k64z/steamguard/steamhttp"
	"github.com/k64z/steamguard/steamsession"
	"github.com/k64z/steamguard/steamtime"
	"github.com/k64z/steamguard/steamtotp"
)

// app holds the collaborators one invocation shares. Every request of the
// process goes through httpClient and waits on its limiter.
type app struct {
	cfg        *config.Config
	configPath string
	legacy     bool

	logger     *slog.Logger
	stdout     io.Writer
	prompter   prompt.Prompter
	httpClient *http.Client
	api        *steamapi.API
	time       *steamtime.Sync
}

func newApp(cfg *config.Config, configPath string, legacy bool, logger *slog.Logger, stdout io.Writer) (*app, error) {
	limiter := steamhttp.NewLimiter(cfg.RequestInterval)

	httpOpts := []steamhttp.Option{
		steamhttp.WithTimeout(cfg.Timeout),
		steamhttp.WithLimiter(limiter),
	}
	if cfg.Proxy != "" {
		httpOpts = append(httpOpts, steamhttp.WithProxy(cfg.Proxy))
	}
	httpClient, err := steamhttp.NewClient(httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("init HTTP client: %w", err)
	}

	api, err := steamapi.New(steamapi.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("init SteamAPI: %w", err)
	}

	timeSync, err := steamtime.New(api, steamtime.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init time sync: %w", err)
	}

	return &app{
		cfg:        cfg,
		configPath: configPath,
		legacy:     legacy,
		logger:     logger,
		stdout:     stdout,
		prompter:   prompt.NewTerminal(),
		httpClient: httpClient,
		api:        api,
		time:       timeSync,
	}, nil
}

func (a *app) code(ctx context.Context) error {
	if _, err := a.time.Sync(ctx); err != nil {
		return fmt.Errorf("sync steam time: %w", err)
	}
	code, err := steamtotp.GenerateAuthCode(a.cfg.SharedSecret, a.time)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	fmt.Fprintln(a.stdout, code)
	return nil
}

func (a *app) list(ctx context.Context) error {
	community, auth, err := a.community(ctx)
	if err != nil {
		return err
	}

	listing, err := community.FetchConfirmations(ctx, auth)
	if err != nil {
		return fmt.Errorf("fetch confirmations: %w", err)
	}
	if listing.Empty() {
		fmt.Fprintln(a.stdout, "no pending confirmations")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCREATOR\tHEADLINE")
	for _, conf := range listing.Confirmations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conf.ID, conf.Type, conf.CreatorID, conf.Headline)
	}
	return w.Flush()
}

func (a *app) accept(ctx context.Context, offerIDs []string) error {
	community, auth, err := a.community(ctx)
	if err != nil {
		return err
	}

	if len(offerIDs) == 1 {
		if err := community.AcceptConfirmation(ctx, auth, offerIDs[0]); err != nil {
			return fmt.Errorf("accept offer %s: %w", offerIDs[0], err)
		}
		fmt.Fprintf(a.stdout, "accepted offer %s\n", offerIDs[0])
		return nil
	}

	res, err := community.AcceptMany(ctx, auth, offerIDs)
	if err != nil {
		return fmt.Errorf("accept offers: %w", err)
	}
	fmt.Fprintf(a.stdout, "accepted %d of %d offers\n", res.Accepted, res.Total)
	if res.Accepted == 0 {
		return errors.New("no offer had a pending confirmation")
	}
	return nil
}

func (a *app) cancel(ctx context.Context, offerID string) error {
	community, auth, err := a.community(ctx)
	if err != nil {
		return err
	}
	if err := community.CancelConfirmation(ctx, auth, offerID); err != nil {
		return fmt.Errorf("cancel offer %s: %w", offerID, err)
	}
	fmt.Fprintf(a.stdout, "canceled offer %s\n", offerID)
	return nil
}

func (a *app) loginCommand(ctx context.Context) error {
	if _, err := a.time.Sync(ctx); err != nil && a.cfg.SharedSecret != "" {
		return fmt.Errorf("sync steam time: %w", err)
	}
	sess, err := a.newSession()
	if err != nil {
		return err
	}
	if err := a.login(ctx, sess); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "logged in as %s\n", sess.SteamID())
	return nil
}

// community syncs the clock, establishes a web session and returns the
// confirmation client with the account's signing material.
func (a *app) community(ctx context.Context) (*steamcommunity.Community, steamcommunity.MobileAuth, error) {
	var auth steamcommunity.MobileAuth

	if _, err := a.time.Sync(ctx); err != nil {
		return nil, auth, fmt.Errorf("sync steam time: %w", err)
	}

	sess, err := a.session(ctx)
	if err != nil {
		return nil, auth, err
	}
	if err := sess.InstallWebCookies(); err != nil {
		return nil, auth, err
	}

	format, _ := a.cfg.Format()
	community, err := steamcommunity.New(a.time,
		steamcommunity.WithHTTPClient(sess.HTTPClient()),
		steamcommunity.WithLogger(a.logger),
		steamcommunity.WithListingFormat(format),
	)
	if err != nil {
		return nil, auth, fmt.Errorf("init community: %w", err)
	}

	auth = steamcommunity.MobileAuth{
		SteamID:        sess.SteamID(),
		DeviceID:       a.deviceID(ctx, sess),
		IdentitySecret: a.cfg.IdentitySecret,
	}
	return community, auth, nil
}

func (a *app) newSession() (*steamsession.Session, error) {
	opts := []steamsession.Option{
		steamsession.WithHTTPClient(a.httpClient),
		steamsession.WithLogger(a.logger),
		steamsession.WithPrompter(a.prompter),
	}
	if a.cfg.SharedSecret != "" {
		opts = append(opts, steamsession.WithSharedSecret(a.cfg.SharedSecret, a.time))
	}
	sess, err := steamsession.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	return sess, nil
}

// session resumes the stored refresh token, falling back to a full login
// when Steam has expired it and credentials are available.
func (a *app) session(ctx context.Context) (*steamsession.Session, error) {
	sess, err := a.newSession()
	if err != nil {
		return nil, err
	}

	if a.cfg.RefreshToken != "" {
		steamID, _ := a.cfg.ParsedSteamID()
		err := sess.Resume(ctx, steamID, a.cfg.RefreshToken)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, steamsession.ErrSessionExpired) && a.cfg.AccountName != "":
			a.logger.Warn("resume session", "steam_id", steamID.String(), "outcome", "expired")
		default:
			return nil, err
		}
	}

	if err := a.login(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *app) login(ctx context.Context, sess *steamsession.Session) error {
	password := a.cfg.Password
	if password == "" {
		var err error
		if password, err = a.prompter.Secret("Password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if a.legacy {
		return sess.LoginLegacy(ctx, a.cfg.AccountName, password)
	}
	if err := sess.Login(ctx, a.cfg.AccountName, password); err != nil {
		return err
	}

	if a.configPath == "" {
		return nil
	}
	if err := config.SaveSession(a.configPath, sess.SteamID(), sess.RefreshToken()); err != nil {
		a.logger.Warn("save session", "path", a.configPath, "error", err)
		return nil
	}
	a.logger.Info("save session", "path", a.configPath, "steam_id", sess.SteamID().String())
	return nil
}

// deviceID prefers the configured id, then the one Steam has on file, and
// derives one from the SteamID as a last resort.
func (a *app) deviceID(ctx context.Context, sess *steamsession.Session) string {
	if a.cfg.DeviceID != "" {
		return a.cfg.DeviceID
	}

	if token := sess.AccessToken(); token != "" {
		status, err := a.api.QueryStatus(ctx, token, sess.SteamID())
		if err == nil {
			return status.DeviceIdentifier
		}
		a.logger.Warn("query authenticator status", "steam_id", sess.SteamID().String(), "error", err)
	}

	deviceID := steamtotp.DeviceID(sess.SteamID().ToSteamID64())
	a.logger.Info("derive device id", "steam_id", sess.SteamID().String(), "device_id", deviceID)
	return deviceID
}
