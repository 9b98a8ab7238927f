package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseConfig holds Firebase project settings
type FirebaseConfig struct {
	ProjectID string
	// CredentialsPath is a service account file. Empty uses application
	// default credentials (or the emulator when FIRESTORE_EMULATOR_HOST is set).
	CredentialsPath string
}

// FirebaseApp bundles the clients the services use
type FirebaseApp struct {
	app       *firebase.App
	Firestore *firestore.Client
}

// NewFirebaseApp initializes the Firebase app and its Firestore client
func NewFirebaseApp(ctx context.Context, cfg *FirebaseConfig) (*FirebaseApp, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirebaseApp{app: app, Firestore: fs}, nil
}

// Messaging returns a Cloud Messaging client
func (f *FirebaseApp) Messaging(ctx context.Context) (*messaging.Client, error) {
	client, err := f.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return client, nil
}

// Close closes the Firestore client
func (f *FirebaseApp) Close() error {
	return f.Firestore.Close()
}
