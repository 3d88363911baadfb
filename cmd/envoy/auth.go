package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	authEmail string
	authName  string

	stdin = bufio.NewReader(os.Stdin)
)

// loginCmd authenticates and stores the token
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password",
	Long: `Log in to the chapter platform. The password is read from the terminal
without echo, or from ENVOY_PASSWORD when set.`,
	RunE: runLogin,
}

// registerCmd creates an account
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE:  runRegister,
}

// logoutCmd forgets the stored token
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			s.Logout()
			fmt.Println("Logged out.")
			return nil
		})
	},
}

// whoamiCmd prints the current identity
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			me, err := s.Whoami(s.ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(me)
			}
			fmt.Printf("%s <%s> (%s)\n", me.Name, me.Email, me.Role)
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().StringVarP(&authEmail, "email", "e", "", "Account email (prompted when empty)")
	registerCmd.Flags().StringVarP(&authEmail, "email", "e", "", "Account email (prompted when empty)")
	registerCmd.Flags().StringVarP(&authName, "name", "n", "", "Display name (prompted when empty)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, err := promptLine("Email: ", authEmail)
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	return withClient(false, func(s *session) error {
		if err := s.Login(s.ctx, email, password); err != nil {
			return err
		}
		if me, ok := s.Session().CurrentIdentity(); ok {
			fmt.Printf("Logged in as %s.\n", me.Name)
		} else {
			fmt.Println("Logged in. Profile could not be loaded yet; run `envoy whoami` to retry.")
		}
		return nil
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	name, err := promptLine("Name: ", authName)
	if err != nil {
		return err
	}
	email, err := promptLine("Email: ", authEmail)
	if err != nil {
		return err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	return withClient(false, func(s *session) error {
		if err := s.Register(s.ctx, name, email, password); err != nil {
			return err
		}
		if s.Session().State().LoggedIn() {
			fmt.Println("Account created, you are logged in.")
		} else {
			fmt.Println("Account created. Log in with `envoy login`.")
		}
		return nil
	})
}

func promptLine(label, preset string) (string, error) {
	if preset != "" {
		return preset, nil
	}
	fmt.Print(label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}

func promptPassword(label string) (string, error) {
	if pw := os.Getenv("ENVOY_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(label, "")
	}
	fmt.Print(label)
	pw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(pw) == 0 {
		return "", errors.New("empty password")
	}
	return string(pw), nil
}
