package engine

import "fmt"

const (
	msgWelcome = "Welcome to NigeriaConnect!\n\n" +
		"This bot helps you connect with people across Nigeria. All data is encrypted and handled with care.\n\n" +
		"Ready to start?"
	msgFarewell       = "No problem. Feel free to come back anytime! Type /start to begin again."
	msgAskLocation    = "Great! Please share your location so I can find connections in your state. You can use the paperclip icon to send your live or current location."
	msgLocationRetry  = "Sorry, I couldn't determine a Nigerian state from your location. Please try again or /cancel."
	msgNotALocation   = "Could not read location. Please share a location, or /cancel."
	msgUseButtons     = "Please answer with the buttons above, or /cancel."
	msgCancelled      = "Process cancelled. Type /start to begin again."
	msgNoSession      = "Type /start to begin."
	msgSaveFailed     = "Something went wrong and your info was not saved. Please type /start to try again."
	contactHint       = "e.g., Alex Johnson, +234..."
	confirmedTemplate = "Your contact info has been saved securely! Thank you.\n\n" +
		"We are now looking for a connection in *%s* and will send the details here.\n\n" +
		"This conversation is complete. Type /start to begin again."
)

func msgAskContact(region string) string {
	return fmt.Sprintf("Location confirmed: %s State. Please provide your name and phone number so we can connect you.", region)
}

func msgSaved(region string) string {
	return fmt.Sprintf(confirmedTemplate, region)
}
