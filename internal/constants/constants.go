package constants

import "time"

const (
	ServiceName = "leadpipe"
)

const (
	DefaultPort         = 8080
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	ShutdownTimeout     = 10 * time.Second
)

const (
	DefaultHTTPTimeout   = 10 * time.Second
	DefaultInlineTimeout = 5 * time.Second
)

const (
	QueueLeads     = "leads"
	QueueWarehouse = "warehouse"

	DefaultLeadQueuePath      = "data/leads_queue.json"
	DefaultWarehouseQueuePath = "data/warehouse_queue.json"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 1 * time.Minute
)

const (
	SheetsAPIURL   = "https://sheets.googleapis.com/v4/spreadsheets"
	DriveAPIURL    = "https://www.googleapis.com/drive/v3/files"
	GoogleTokenURI = "https://oauth2.googleapis.com/token"

	DefaultSpreadsheetTitle = "Panneaux Solaires - Publiweb"
	DefaultAlertRule        = `lead.dwelling_type == "Appartement" || lead.ownership_status == "Locataire"`
)

const (
	VonageSMSURL   = "https://rest.nexmo.com/sms/json"
	DefaultSMSFrom = "RDV TEL"
	// DefaultSMSTemplate is rendered with liquid.
	DefaultSMSTemplate = "Bonjour {{ first_name }} {{ last_name }}\n" +
		"Merci pour votre demande\n" +
		"Un conseiller vous recontactera sous 24h à 48h\n\n" +
		"Pour sécuriser votre parcours, veuillez noter votre code dossier {{ dossier_code }} " +
		"Pour annuler votre RDV, cliquez ici: https://aud.vc/annulationPVML"
)

const (
	DefaultWarehouseTable = "lead_submissions"
	WarehouseMaxOpenConns = 5
	WarehouseMaxIdleConns = 1
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
