// Package azure implements broker.Client on Azure Service Bus.
//
// Admin calls go through the azservicebus admin client; sends, receives and settlement through the
// data-plane client. The processor renews message locks (session locks in session mode) until the
// message is settled or MaxAutoLockRenewalDuration has passed.
package azure
