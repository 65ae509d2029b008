package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"estimo/server/internal/client"
	"estimo/server/internal/models"
	"estimo/server/internal/pricing"
	"estimo/server/internal/valuation"
)

var (
	estimateAddress  models.AddressInput
	estimateProperty models.PropertyInput
	estimateElevator bool
	estimateJSON     bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estime le prix d'un bien via l'API",
	Example: `  estimo estimate --numero 13 --rue "rue Lasson" --ville Paris --code-postal 75012 \
    --type 2 --pieces 3 --surface 60`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		property := estimateProperty
		if cmd.Flags().Changed("ascenseur") {
			elevator := estimateElevator
			property.Elevator = &elevator
		}

		c := client.New(cfg.Collaborators.URL, cfg.Collaborators.Timeout, logger)
		orchestrator := valuation.NewOrchestrator(c, c, cfg.Chart, logger)
		session := valuation.NewSession(orchestrator, cfg.Session.DismissAfter, logger)
		defer session.Close()

		est, err := session.Submit(cmd.Context(), estimateAddress, property)
		notice := session.Notice()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", notice.Severity, notice.Text)
			return err
		}

		out := cmd.OutOrStdout()
		if estimateJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Notice   valuation.Notice    `json:"notice"`
				Estimate *valuation.Estimate `json:"estimate"`
			}{notice, est})
		}

		printEstimate(out, est, notice)
		return nil
	},
}

func printEstimate(w io.Writer, est *valuation.Estimate, notice valuation.Notice) {
	fmt.Fprintf(w, "%s\n\n", notice.Text)
	fmt.Fprintf(w, "Prix estimé:   %s\n", est.Result.PredictedPriceFormatted)
	if est.Result.PricePerM2Formatted != "" {
		fmt.Fprintf(w, "Prix au m²:    %s\n", est.Result.PricePerM2Formatted)
	}
	fmt.Fprintf(w, "Code postal:   %s\n", est.Result.PostalCode)
	fmt.Fprintf(w, "Coordonnées:   %.5f, %.5f\n", est.Request.Latitude, est.Request.Longitude)

	if est.Chart == nil {
		return
	}
	fmt.Fprintf(w, "\nÉvolution du prix au m² (%s):\n", est.Result.PostalCode)
	for _, m := range est.Chart.Markers {
		current := ""
		if m.Current {
			current = " ◀"
		}
		fmt.Fprintf(w, "  %s  %10.0f €/m²%s\n", m.Date, m.PricePerM2, current)
	}
}

func init() {
	f := estimateCmd.Flags()
	f.StringVar(&estimateAddress.HouseNumber, "numero", "", "numéro de rue")
	f.StringVar(&estimateAddress.Street, "rue", "", "nom de la rue")
	f.StringVar(&estimateAddress.City, "ville", "", "ville")
	f.StringVar(&estimateAddress.PostalCode, "code-postal", "", "code postal")
	f.StringVar(&estimateProperty.PropertyTypeCode, "type", "2", "code_type_local (1 maison, 2 appartement, 3 dépendance, 4 local)")
	f.StringVar(&estimateProperty.RoomCount, "pieces", "", "nombre de pièces principales")
	f.StringVar(&estimateProperty.SurfaceM2, "surface", "", "surface Carrez en m²")
	f.BoolVar(&estimateElevator, "ascenseur", true, "l'immeuble a un ascenseur")
	f.StringVar(&estimateProperty.Renovation, "renovation", "", "état: "+strings.Join(pricing.RenovationStates, ", "))
	f.BoolVar(&estimateJSON, "json", false, "sortie JSON")

	rootCmd.AddCommand(estimateCmd)
}
