package e2e

// e2e contains integration tests that run the one-mailer command tree against
// an in-process SMTP server, using config files and dotenv files written to
// disk the way a user would. Test dependencies shared with unit tests live in
// smtptest instead. (These were intended to be end-to-end tests but became
// integration tests instead, hence the name.)
