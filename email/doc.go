package email

// email is responsible for sending a single message to an SMTP server over
// implicit TLS, including connecting to the server, authenticating, and
// building a MIME-formatted plain-text message. It reports every outcome as
// a Result rather than returning or panicking, so callers can print or branch
// on the failure kind without handling the transport themselves.
