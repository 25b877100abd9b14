package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/qcom/librarian/internal/access"
	"github.com/qcom/librarian/internal/apiclient"
	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/session"
	"github.com/sirupsen/logrus"
)

var errUsage = errors.New("invalid arguments")

type app struct {
	store  *session.Store
	client *apiclient.Client
	lead   time.Duration
	out    io.Writer
	logger *logrus.Logger
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "signup":
		return a.signUp(ctx, args)
	case "logout":
		a.store.Logout(ctx)
		fmt.Fprintln(a.out, "signed out")
		return nil
	case "whoami":
		return a.whoami(ctx, args)
	case "refresh":
		return a.refresh(ctx)
	case "passwd":
		return a.changePassword(ctx, args)
	case "profile":
		return a.updateProfile(ctx, args)
	case "routes":
		return a.routes()
	case "can":
		return a.can(args)
	case "users":
		return a.users(ctx)
	case "watch":
		return a.watch(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	login := fs.String("login", "", "user name or email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *login == "" || *password == "" {
		return fmt.Errorf("%w: -login and -password are required", errUsage)
	}

	if err := a.store.Login(ctx, models.LoginRequest{UserNameOrEmail: *login, Password: *password}); err != nil {
		return err
	}
	return a.printIdentity(a.store.Identity())
}

func (a *app) signUp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	var req models.SignUpRequest
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	fs.StringVar(&req.UserName, "user", "", "user name")
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	fs.StringVar(&req.PhoneNumber, "phone", "", "phone number")
	gender := fs.String("gender", "other", "male, female or other")
	fs.StringVar(&req.DateOfBirth, "dob", "", "date of birth, YYYY-MM-DD")
	fs.StringVar(&req.Address, "address", "", "postal address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, err := parseGender(*gender)
	if err != nil {
		return err
	}
	req.Gender = g

	if err := a.store.SignUp(ctx, req); err != nil {
		return err
	}
	return a.printIdentity(a.store.Identity())
}

func (a *app) whoami(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	remote := fs.Bool("remote", false, "ask the backend instead of reading the token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !a.store.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	if !*remote {
		return a.printIdentity(a.store.Identity())
	}

	identity, err := a.client.Me(ctx)
	if err != nil {
		return err
	}
	return a.printIdentity(identity)
}

func (a *app) refresh(ctx context.Context) error {
	token, err := a.store.RefreshAccessToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return session.ErrNotAuthenticated
	}
	fmt.Fprintf(a.out, "access token renewed, expires in %ds\n", session.RemainingSeconds(token, time.Now()))
	return nil
}

func (a *app) changePassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	var req models.ChangePasswordRequest
	fs.StringVar(&req.CurrentPassword, "current", "", "current password")
	fs.StringVar(&req.NewPassword, "new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.store.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}

	if err := a.store.ChangePassword(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "password changed")
	return nil
}

func (a *app) updateProfile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fields := map[string]*string{
		"first":   fs.String("first", "", "first name"),
		"last":    fs.String("last", "", "last name"),
		"user":    fs.String("user", "", "user name"),
		"email":   fs.String("email", "", "email"),
		"phone":   fs.String("phone", "", "phone number"),
		"gender":  fs.String("gender", "", "male, female or other"),
		"dob":     fs.String("dob", "", "date of birth, YYYY-MM-DD"),
		"address": fs.String("address", "", "postal address"),
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.store.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}

	req, err := profileRequest(fs, fields)
	if err != nil {
		return err
	}
	if err := a.store.UpdateProfile(ctx, req); err != nil {
		return err
	}
	return a.printIdentity(a.store.Identity())
}

// profileRequest keeps only the flags given on the command line.
func profileRequest(fs *flag.FlagSet, fields map[string]*string) (models.UpdateProfileRequest, error) {
	var req models.UpdateProfileRequest
	var err error
	fs.Visit(func(f *flag.Flag) {
		value := fields[f.Name]
		switch f.Name {
		case "first":
			req.FirstName = value
		case "last":
			req.LastName = value
		case "user":
			req.UserName = value
		case "email":
			req.Email = value
		case "phone":
			req.PhoneNumber = value
		case "dob":
			req.DateOfBirth = value
		case "address":
			req.Address = value
		case "gender":
			var g models.Gender
			if g, err = parseGender(*value); err == nil {
				req.Gender = &g
			}
		}
	})
	return req, err
}

func (a *app) routes() error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tREQUIRES")
	for _, path := range access.Paths() {
		route, _ := access.Lookup(path)
		required := "signed in"
		if route.Required != models.RoleNone {
			required = route.Required.String()
		}
		fmt.Fprintf(w, "%s\t%s\n", path, required)
	}
	return w.Flush()
}

func (a *app) can(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: can takes exactly one path", errUsage)
	}
	route, ok := access.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: no route at %s", errUsage, args[0])
	}

	decision := access.GuardRoute(a.store.Loading(), a.store.Identity(), route)
	if decision.Target != "" {
		fmt.Fprintf(a.out, "%s %s\n", decision.Outcome, decision.Target)
		return nil
	}
	fmt.Fprintln(a.out, decision.Outcome)
	return nil
}

func (a *app) users(ctx context.Context) error {
	if !access.IsAdmin(a.store.Identity()) {
		return fmt.Errorf("listing users requires the %s role", models.RoleAdmin)
	}
	users, err := a.client.Users(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tEMAIL\tROLE")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.UserName, u.Email, u.Role)
	}
	return w.Flush()
}

// watch keeps the session fresh until ctx is cancelled.
func (a *app) watch(ctx context.Context) error {
	if !a.store.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}

	scheduler := session.NewRefreshScheduler(a.store, clockwork.NewRealClock(), a.lead, a.logger)
	scheduler.Start(ctx, a.store)
	defer scheduler.Stop()

	signedOut := make(chan struct{})
	unsubscribe := a.store.Subscribe(func(accessToken string) {
		if accessToken == "" {
			select {
			case <-signedOut:
			default:
				close(signedOut)
			}
		}
	})
	defer unsubscribe()

	a.logger.WithField("lead", a.lead).Info("Watching session")
	select {
	case <-ctx.Done():
		return nil
	case <-signedOut:
		return session.ErrNotAuthenticated
	}
}

func (a *app) printIdentity(identity *models.Identity) error {
	if identity == nil {
		return session.ErrNotAuthenticated
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", identity.ID)
	fmt.Fprintf(w, "user\t%s\n", identity.UserName)
	fmt.Fprintf(w, "name\t%s %s\n", identity.FirstName, identity.LastName)
	fmt.Fprintf(w, "email\t%s\n", identity.Email)
	fmt.Fprintf(w, "role\t%s\n", identity.Role)
	return w.Flush()
}

func parseGender(s string) (models.Gender, error) {
	switch strings.ToLower(s) {
	case "male":
		return models.GenderMale, nil
	case "female":
		return models.GenderFemale, nil
	case "other", "":
		return models.GenderOther, nil
	default:
		return 0, fmt.Errorf("%w: unknown gender %q", errUsage, s)
	}
}
